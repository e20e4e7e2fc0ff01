// Package reasoning executes retrieval plans as multi-step reasoning
// chains, carrying context between steps and bounding both step count
// and per-step latency.
package reasoning

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/internal/metrics"
	"github.com/BaSui01/queryflow/planner"
	"github.com/BaSui01/queryflow/types"
)

// Reasoner executes reasoning chains over retrieval plans.
type Reasoner struct {
	cfg       config.ReasonerConfig
	optimizer *planner.Optimizer
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// Option customizes a Reasoner.
type Option func(*Reasoner)

// WithLogger sets the reasoner's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reasoner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOptimizer attaches an optimizer. With one present, independent
// sub-queries run in parallel batches and chains may stop early.
func WithOptimizer(optimizer *planner.Optimizer) Option {
	return func(r *Reasoner) { r.optimizer = optimizer }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Reasoner) { r.metrics = collector }
}

// New creates a Reasoner from the given configuration.
func New(cfg config.ReasonerConfig, opts ...Option) *Reasoner {
	r := &Reasoner{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "reasoner"))
	return r
}

// ExecuteChain runs every step of a plan and returns a shell answer
// holding the executed steps. Answer text, sources, and confidence are
// filled in by synthesis.
func (r *Reasoner) ExecuteChain(ctx context.Context, plan *types.RetrievalPlan, retrieve types.RetrievalFunc) (*types.SynthesizedAnswer, error) {
	if plan == nil || len(plan.SubQueries) == 0 {
		return nil, types.NewError(types.ErrReasoning, "cannot execute reasoning chain with empty plan")
	}
	if retrieve == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "retrieval callback must not be nil")
	}
	if len(plan.ExecutionOrder) == 0 {
		return nil, types.NewError(types.ErrReasoning, "plan must have valid execution order")
	}

	originalQuery := plan.SubQueries[0].OriginalQuery
	rctx := &types.ReasoningContext{QueryID: plan.ID}

	var (
		steps []types.StepResult
		early bool
		err   error
	)
	if r.optimizer != nil {
		steps, early, err = r.executeParallel(ctx, plan, retrieve, rctx)
	} else {
		steps, early, err = r.executeSequential(ctx, plan, retrieve, rctx)
	}
	r.metrics.RecordReasoningChain(len(steps), early)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("reasoning chain complete",
		zap.String("plan_id", plan.ID),
		zap.Int("steps", len(steps)),
		zap.Bool("early_termination", early))

	return &types.SynthesizedAnswer{
		OriginalQuery:  originalQuery,
		ReasoningSteps: steps,
	}, nil
}

// executeParallel walks the plan group by group, fanning out each
// group's members through the optimizer.
func (r *Reasoner) executeParallel(ctx context.Context, plan *types.RetrievalPlan, retrieve types.RetrievalFunc, rctx *types.ReasoningContext) ([]types.StepResult, bool, error) {
	var steps []types.StepResult

	groups := r.optimizer.IndependentGroups(plan.SubQueries)
	for _, group := range groups {
		if len(steps) >= r.cfg.MaxSteps {
			return steps, false, types.Errorf(types.ErrCapacityExceeded,
				"exceeded maximum reasoning steps (%d)", r.cfg.MaxSteps)
		}

		groupQueries := make([]types.SubQuery, 0, len(group))
		for _, id := range group {
			if sq, ok := plan.SubQueryByID(id); ok {
				groupQueries = append(groupQueries, sq)
			}
		}
		if len(groupQueries) == 0 {
			continue
		}

		groupResults, err := r.optimizer.ParallelizeIndependentQueries(ctx, groupQueries, retrieve)
		if err != nil {
			return steps, false, types.NewError(types.ErrReasoning, "failed to execute parallel group").WithCause(err)
		}

		// Walk the group slice so step numbering is deterministic.
		for _, sq := range groupQueries {
			records := groupResults[sq.ID]
			if records == nil {
				records = []types.ResultRecord{}
			}
			step := types.StepResult{
				StepNumber: len(steps),
				Query:      sq,
				Results:    records,
				Success:    true,
			}
			steps = append(steps, step)
			r.advanceContext(rctx, sq, step.Results)
		}

		if r.cfg.EnableEarlyTermination && r.optimizer.ShouldTerminateEarly(steps) {
			return steps, true, nil
		}
	}
	return steps, false, nil
}

// executeSequential walks the execution order one step at a time.
func (r *Reasoner) executeSequential(ctx context.Context, plan *types.RetrievalPlan, retrieve types.RetrievalFunc, rctx *types.ReasoningContext) ([]types.StepResult, bool, error) {
	var steps []types.StepResult

	for stepNum, id := range plan.ExecutionOrder {
		if stepNum >= r.cfg.MaxSteps {
			return steps, false, types.Errorf(types.ErrCapacityExceeded,
				"exceeded maximum reasoning steps (%d)", r.cfg.MaxSteps)
		}

		sq, ok := plan.SubQueryByID(id)
		if !ok {
			return steps, false, types.Errorf(types.ErrReasoning, "sub-query %s not found in plan", id)
		}

		step, err := r.RetrieveStep(ctx, sq, stepNum, retrieve, rctx)
		if err != nil {
			return steps, false, err
		}
		steps = append(steps, step)
		r.advanceContext(rctx, sq, step.Results)

		if r.cfg.EnableEarlyTermination && r.optimizer != nil && r.optimizer.ShouldTerminateEarly(steps) {
			return steps, true, nil
		}
	}
	return steps, false, nil
}

// RetrieveStep executes one retrieval under the configured step
// timeout. The timeout cancels the context handed to the callback; a
// callback that ignores cancellation keeps running, but its result is
// discarded.
func (r *Reasoner) RetrieveStep(ctx context.Context, sq types.SubQuery, stepNumber int, retrieve types.RetrievalFunc, rctx *types.ReasoningContext) (types.StepResult, error) {
	if retrieve == nil {
		return types.StepResult{}, types.NewError(types.ErrInvalidArgument, "retrieval callback must not be nil")
	}

	stepCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.cfg.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, r.cfg.StepTimeout)
	}
	defer cancel()

	type outcome struct {
		records []types.ResultRecord
		err     error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		records, err := retrieve(stepCtx, sq)
		done <- outcome{records: records, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-stepCtx.Done():
		elapsed := time.Since(start)
		r.metrics.RecordRetrieval("sequential", elapsed, stepCtx.Err())
		r.logger.Warn("retrieval step timed out",
			zap.String("sub_query_id", sq.ID),
			zap.Int("step", stepNumber),
			zap.Duration("elapsed", elapsed))
		return types.StepResult{
				StepNumber:      stepNumber,
				Query:           sq,
				Results:         []types.ResultRecord{},
				ExecutionTimeMS: float64(elapsed.Milliseconds()),
				Success:         false,
				ErrorMessage:    stepCtx.Err().Error(),
			}, types.Errorf(types.ErrTimeout,
				"step %d exceeded timeout of %s", stepNumber, r.cfg.StepTimeout).WithCause(stepCtx.Err())
	}

	elapsed := time.Since(start)
	r.metrics.RecordRetrieval("sequential", elapsed, out.err)

	if out.err != nil {
		r.logger.Warn("retrieval step failed",
			zap.String("sub_query_id", sq.ID),
			zap.Int("step", stepNumber),
			zap.Error(out.err))
		return types.StepResult{
				StepNumber:      stepNumber,
				Query:           sq,
				Results:         []types.ResultRecord{},
				ExecutionTimeMS: float64(elapsed.Milliseconds()),
				Success:         false,
				ErrorMessage:    out.err.Error(),
			}, types.Errorf(types.ErrRetrievalFailure,
				"step %d failed", stepNumber).WithCause(out.err)
	}

	records := out.records
	if records == nil {
		records = []types.ResultRecord{}
	}
	return types.StepResult{
		StepNumber:      stepNumber,
		Query:           sq,
		Results:         records,
		ExecutionTimeMS: float64(elapsed.Milliseconds()),
		Success:         true,
	}, nil
}

// MaintainContext folds new results into the reasoning context and
// bumps the step number.
func (r *Reasoner) MaintainContext(step int, rctx *types.ReasoningContext, newResults []types.ResultRecord) (*types.ReasoningContext, error) {
	if rctx == nil {
		return nil, types.NewError(types.ErrReasoning, "context cannot be nil")
	}

	rctx.StepNumber = step
	rctx.PreviousResults = newResults
	rctx.AccumulatedContext = r.accumulateContext(rctx.AccumulatedContext, newResults)
	return rctx, nil
}

// HandleInsufficientResults derives follow-up sub-queries when pooled
// results cannot support an answer. The derived query depends on every
// existing sub-query so it always runs last.
func (r *Reasoner) HandleInsufficientResults(results []types.ResultRecord, originalQuery string, plan *types.RetrievalPlan) ([]types.SubQuery, error) {
	if originalQuery == "" {
		return nil, types.NewError(types.ErrReasoning, "original query must be a non-empty string")
	}
	if plan == nil || len(plan.SubQueries) == 0 {
		return nil, types.NewError(types.ErrReasoning, "current plan cannot be empty")
	}

	if resultsSufficient(results) {
		return nil, nil
	}

	var text string
	switch {
	case len(results) == 0:
		text = "general information about " + originalQuery
	case len(results) < 3:
		text = "related topics for " + originalQuery
	default:
		if types.MeanConfidence(results) >= 0.6 {
			return nil, nil
		}
		text = "verify information about " + originalQuery
	}

	first := plan.SubQueries[0]
	deps := make([]string, 0, len(plan.SubQueries))
	for _, sq := range plan.SubQueries {
		deps = append(deps, sq.ID)
	}

	return []types.SubQuery{{
		ID:            uuid.NewString(),
		OriginalQuery: originalQuery,
		SubQueryText:  text,
		QueryType:     first.QueryType,
		Entities:      first.Entities,
		Priority:      len(plan.SubQueries),
		Dependencies:  deps,
	}}, nil
}

func (r *Reasoner) advanceContext(rctx *types.ReasoningContext, sq types.SubQuery, results []types.ResultRecord) {
	rctx.StepNumber++
	rctx.PreviousResults = results
	rctx.ReasoningChain = append(rctx.ReasoningChain, sq.SubQueryText)
	if len(results) > 0 {
		rctx.AccumulatedContext = r.accumulateContext(rctx.AccumulatedContext, results)
	}
}

// accumulateContext appends result texts while the combined buffer
// stays under the configured cap. Later texts that would overflow are
// skipped rather than truncated.
func (r *Reasoner) accumulateContext(current string, results []types.ResultRecord) string {
	if len(results) == 0 {
		return current
	}

	combined := current
	for _, record := range results {
		text := record.Text()
		if text == "" {
			continue
		}
		if len(combined)+len(text) < r.cfg.MaxContextChars {
			combined += " " + text
		}
	}
	return strings.TrimSpace(combined)
}

// resultsSufficient requires at least three results averaging 0.5
// confidence.
func resultsSufficient(results []types.ResultRecord) bool {
	if len(results) < 3 {
		return false
	}
	return types.MeanConfidence(results) >= 0.5
}
