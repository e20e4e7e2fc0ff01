package planner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/internal/metrics"
	"github.com/BaSui01/queryflow/internal/pool"
	"github.com/BaSui01/queryflow/types"
)

// Optimizer speeds up plan execution by fanning out independent
// sub-queries and stopping once results are good enough.
type Optimizer struct {
	cfg     config.OptimizerConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

// OptimizerOption customizes an Optimizer.
type OptimizerOption func(*Optimizer)

// WithOptimizerLogger sets the optimizer's logger.
func WithOptimizerLogger(logger *zap.Logger) OptimizerOption {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOptimizerMetrics attaches a metrics collector.
func WithOptimizerMetrics(collector *metrics.Collector) OptimizerOption {
	return func(o *Optimizer) { o.metrics = collector }
}

// NewOptimizer creates an Optimizer from the given configuration.
func NewOptimizer(cfg config.OptimizerConfig, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "optimizer"))
	return o
}

// OptimizeRetrievalOrder rewrites a plan's execution order so that each
// parallel group's members are contiguous, with every member's
// dependencies placed ahead of it.
func (o *Optimizer) OptimizeRetrievalOrder(plan *types.RetrievalPlan) (*types.RetrievalPlan, error) {
	if plan == nil || len(plan.SubQueries) == 0 {
		return nil, types.NewError(types.ErrPlanning, "cannot optimize empty plan")
	}

	groups := o.IndependentGroups(plan.SubQueries)
	order := groupedExecutionOrder(plan.SubQueries, groups)

	return &types.RetrievalPlan{
		ID:             plan.ID,
		SubQueries:     plan.SubQueries,
		ExecutionOrder: order,
		EstimatedSteps: plan.EstimatedSteps,
		EstimatedCost:  plan.EstimatedCost,
	}, nil
}

// IndependentGroups partitions sub-queries into greedy maximal groups
// whose members can run concurrently. Two queries belong together
// unless one directly depends on the other; sharing a dependency keeps
// them parallel once that dependency is satisfied.
func (o *Optimizer) IndependentGroups(subQueries []types.SubQuery) [][]string {
	var groups [][]string
	processed := make(map[string]struct{}, len(subQueries))

	for i, sq := range subQueries {
		if _, done := processed[sq.ID]; done {
			continue
		}
		group := []string{sq.ID}
		processed[sq.ID] = struct{}{}

		for _, other := range subQueries[i+1:] {
			if _, done := processed[other.ID]; done {
				continue
			}
			if queriesIndependent(sq, other) {
				group = append(group, other.ID)
				processed[other.ID] = struct{}{}
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// ParallelizeIndependentQueries executes dependency-free sub-queries
// concurrently on a bounded worker group, then the rest sequentially.
// A failed retrieval maps its sub-query to an empty result slice rather
// than failing the batch.
func (o *Optimizer) ParallelizeIndependentQueries(ctx context.Context, subQueries []types.SubQuery, retrieve types.RetrievalFunc) (map[string][]types.ResultRecord, error) {
	if len(subQueries) == 0 {
		return nil, types.NewError(types.ErrPlanning, "cannot parallelize empty query list")
	}
	if retrieve == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "retrieval callback must not be nil")
	}

	var independent, dependent []types.SubQuery
	for _, sq := range subQueries {
		if len(sq.Dependencies) == 0 {
			independent = append(independent, sq)
		} else {
			dependent = append(dependent, sq)
		}
	}

	results := make(map[string][]types.ResultRecord, len(subQueries))

	if len(independent) == 0 {
		// Nothing to fan out, run the whole batch sequentially.
		for _, sq := range subQueries {
			results[sq.ID] = o.retrieveSafe(ctx, sq, retrieve, "sequential")
		}
		return results, nil
	}

	group := pool.NewGroup(o.cfg.MaxWorkers)
	parallel := make(map[string][]types.ResultRecord, len(independent))
	var mu sync.Mutex

	for _, sq := range independent {
		sq := sq
		group.Go(ctx, sq.ID, func(ctx context.Context) error {
			records := o.retrieveSafe(ctx, sq, retrieve, "parallel")
			mu.Lock()
			parallel[sq.ID] = records
			mu.Unlock()
			return nil
		})
	}
	errs := group.Wait()

	for _, sq := range independent {
		if records, ok := parallel[sq.ID]; ok {
			results[sq.ID] = records
		} else {
			// Scheduling failure (e.g. cancelled context) counts the
			// same as a failed retrieval.
			results[sq.ID] = []types.ResultRecord{}
			if err := errs[sq.ID]; err != nil {
				o.logger.Warn("parallel retrieval not executed",
					zap.String("sub_query_id", sq.ID),
					zap.Error(err))
			}
		}
	}

	for _, sq := range dependent {
		results[sq.ID] = o.retrieveSafe(ctx, sq, retrieve, "sequential")
	}

	return results, nil
}

// ShouldTerminateEarly reports whether accumulated step results already
// answer the query: enough pooled records with high enough mean
// confidence. Only successful steps contribute.
func (o *Optimizer) ShouldTerminateEarly(stepResults []types.StepResult) bool {
	var pooled []types.ResultRecord
	for _, step := range stepResults {
		if step.Success && len(step.Results) > 0 {
			pooled = append(pooled, step.Results...)
		}
	}

	if len(pooled) < o.cfg.SufficientResults {
		return false
	}
	return types.MeanConfidence(pooled) >= o.cfg.ConfidenceThreshold
}

// retrieveSafe invokes the callback, converting errors into an empty
// result slice so one bad sub-query cannot sink the batch.
func (o *Optimizer) retrieveSafe(ctx context.Context, sq types.SubQuery, retrieve types.RetrievalFunc, mode string) []types.ResultRecord {
	start := time.Now()
	records, err := retrieve(ctx, sq)
	o.metrics.RecordRetrieval(mode, time.Since(start), err)
	if err != nil {
		o.logger.Warn("retrieval failed",
			zap.String("sub_query_id", sq.ID),
			zap.String("mode", mode),
			zap.Error(err))
		return []types.ResultRecord{}
	}
	if records == nil {
		return []types.ResultRecord{}
	}
	return records
}

// queriesIndependent reports whether two sub-queries may run in the
// same parallel group. Shared dependencies do not serialize them.
func queriesIndependent(a, b types.SubQuery) bool {
	for _, dep := range a.Dependencies {
		if dep == b.ID {
			return false
		}
	}
	for _, dep := range b.Dependencies {
		if dep == a.ID {
			return false
		}
	}
	return true
}

// groupedExecutionOrder flattens parallel groups into a single order,
// pulling each member's dependencies ahead of it.
func groupedExecutionOrder(subQueries []types.SubQuery, groups [][]string) []string {
	byID := subQueryMap(subQueries)
	order := make([]string, 0, len(subQueries))
	placed := make(map[string]struct{}, len(subQueries))

	place := func(id string) {
		if _, done := placed[id]; done {
			return
		}
		order = append(order, id)
		placed[id] = struct{}{}
	}

	for _, group := range groups {
		for _, id := range group {
			if _, done := placed[id]; done {
				continue
			}
			for _, depID := range byID[id].Dependencies {
				place(depID)
			}
			place(id)
		}
	}
	return order
}
