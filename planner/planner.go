// Package planner turns decomposed sub-queries into validated,
// cost-ordered retrieval plans and keeps them honest as results arrive.
package planner

import (
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/types"
)

// Planner builds and refines retrieval plans.
type Planner struct {
	cfg    config.PlannerConfig
	logger *zap.Logger
}

// Option customizes a Planner.
type Option func(*Planner)

// WithLogger sets the planner's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Planner from the given configuration.
func New(cfg config.PlannerConfig, opts ...Option) *Planner {
	p := &Planner{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "planner"))
	return p
}

// CreatePlan validates sub-queries and produces a plan whose execution
// order is a topological sort of the dependency graph, with sub-query
// priority breaking ties.
func (p *Planner) CreatePlan(subQueries []types.SubQuery) (*types.RetrievalPlan, error) {
	if len(subQueries) == 0 {
		return nil, types.NewError(types.ErrPlanning, "cannot create plan for empty sub-query list")
	}

	validIDs := make(map[string]struct{}, len(subQueries))
	for _, sq := range subQueries {
		if sq.ID == "" || sq.SubQueryText == "" {
			return nil, types.NewError(types.ErrPlanning, "all sub-queries must have valid ID and text")
		}
		validIDs[sq.ID] = struct{}{}
	}
	for _, sq := range subQueries {
		for _, depID := range sq.Dependencies {
			if _, ok := validIDs[depID]; !ok {
				return nil, types.Errorf(types.ErrPlanning,
					"sub-query %s has invalid dependency %s", sq.ID, depID)
			}
			if depID == sq.ID {
				return nil, types.Errorf(types.ErrCycleDetected,
					"sub-query %s depends on itself", sq.ID)
			}
		}
	}

	if hasCircularDependencies(subQueries) {
		return nil, types.NewError(types.ErrCycleDetected, "sub-queries contain circular dependencies")
	}

	order := executionOrder(subQueries)
	plan := &types.RetrievalPlan{
		ID:             uuid.NewString(),
		SubQueries:     subQueries,
		ExecutionOrder: order,
		EstimatedSteps: len(subQueries),
		EstimatedCost:  p.totalCost(subQueries, order),
	}

	p.logger.Debug("created retrieval plan",
		zap.String("plan_id", plan.ID),
		zap.Int("steps", plan.EstimatedSteps),
		zap.Float64("cost", plan.EstimatedCost))
	return plan, nil
}

// OptimizePlan reorders a plan greedily by per-query cost while
// respecting dependencies, returning a new plan. Total cost never
// increases because per-query cost is order independent.
func (p *Planner) OptimizePlan(plan *types.RetrievalPlan) (*types.RetrievalPlan, error) {
	if plan == nil || len(plan.SubQueries) == 0 {
		return nil, types.NewError(types.ErrPlanning, "cannot optimize empty plan")
	}

	order := p.optimizeOrder(plan.SubQueries, plan.ExecutionOrder)
	return &types.RetrievalPlan{
		ID:             plan.ID,
		SubQueries:     plan.SubQueries,
		ExecutionOrder: order,
		EstimatedSteps: plan.EstimatedSteps,
		EstimatedCost:  p.totalCost(plan.SubQueries, order),
	}, nil
}

// EstimateCost returns the plan's total cost under the configured model.
func (p *Planner) EstimateCost(plan *types.RetrievalPlan) (float64, error) {
	if plan == nil || len(plan.SubQueries) == 0 {
		return 0, types.NewError(types.ErrPlanning, "cannot estimate cost for empty plan")
	}
	return p.totalCost(plan.SubQueries, plan.ExecutionOrder), nil
}

// AdaptPlan extends a plan when intermediate results look insufficient:
// fewer than three results trigger one broader follow-up derived from
// the first simple sub-query. Sufficient results return the plan as is.
func (p *Planner) AdaptPlan(plan *types.RetrievalPlan, results []types.ResultRecord) (*types.RetrievalPlan, error) {
	if plan == nil || len(plan.SubQueries) == 0 {
		return nil, types.NewError(types.ErrPlanning, "cannot adapt empty plan")
	}

	if resultsSufficient(results) {
		return plan, nil
	}

	additional := p.broaderQueries(plan, results)
	if len(additional) == 0 {
		return plan, nil
	}

	adapted := make([]types.SubQuery, 0, len(plan.SubQueries)+len(additional))
	adapted = append(adapted, plan.SubQueries...)
	adapted = append(adapted, additional...)

	p.logger.Debug("adapting plan with broader queries",
		zap.String("plan_id", plan.ID),
		zap.Int("additional", len(additional)))
	return p.CreatePlan(adapted)
}

// queryCost prices one sub-query by its type, ignoring dependencies.
func (p *Planner) queryCost(sq types.SubQuery) float64 {
	switch sq.QueryType {
	case types.QuerySimple:
		return p.cfg.SimpleQueryCost
	case types.QueryComplex:
		return p.cfg.ComplexQueryCost
	case types.QueryMultiStep:
		return p.cfg.MultiStepQueryCost
	default:
		return p.cfg.SimpleQueryCost
	}
}

func (p *Planner) totalCost(subQueries []types.SubQuery, order []string) float64 {
	byID := subQueryMap(subQueries)
	total := 0.0
	for _, id := range order {
		sq, ok := byID[id]
		if !ok {
			continue
		}
		cost := p.queryCost(sq)
		if len(sq.Dependencies) > 0 {
			cost *= p.cfg.DependencyMultiplier
		}
		total += cost
	}
	return total
}

// executionOrder runs Kahn's algorithm with a stable priority sort on
// the ready set, so equal-priority queries keep their input order.
func executionOrder(subQueries []types.SubQuery) []string {
	byID := subQueryMap(subQueries)
	inDegree := make(map[string]int, len(subQueries))
	for _, sq := range subQueries {
		inDegree[sq.ID] = len(sq.Dependencies)
	}

	var ready []string
	for _, sq := range subQueries {
		if inDegree[sq.ID] == 0 {
			ready = append(ready, sq.ID)
		}
	}

	order := make([]string, 0, len(subQueries))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			return byID[ready[i]].Priority < byID[ready[j]].Priority
		})
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, sq := range subQueries {
			for _, depID := range sq.Dependencies {
				if depID != current {
					continue
				}
				inDegree[sq.ID]--
				if inDegree[sq.ID] == 0 {
					ready = append(ready, sq.ID)
				}
			}
		}
	}

	// Validated graphs are acyclic, so the fallback only guards against
	// callers bypassing CreatePlan.
	if len(order) != len(subQueries) {
		sorted := make([]types.SubQuery, len(subQueries))
		copy(sorted, subQueries)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Priority < sorted[j].Priority
		})
		order = order[:0]
		for _, sq := range sorted {
			order = append(order, sq.ID)
		}
	}
	return order
}

// optimizeOrder greedily picks the cheapest ready query next, scanning
// the current order so equal-cost queries keep their relative position.
func (p *Planner) optimizeOrder(subQueries []types.SubQuery, currentOrder []string) []string {
	byID := subQueryMap(subQueries)

	costs := make(map[string]float64, len(currentOrder))
	for _, id := range currentOrder {
		costs[id] = p.queryCost(byID[id])
	}

	order := make([]string, 0, len(currentOrder))
	processed := make(map[string]struct{}, len(currentOrder))
	remaining := make(map[string]struct{}, len(currentOrder))
	for _, id := range currentOrder {
		remaining[id] = struct{}{}
	}

	for len(remaining) > 0 {
		next := ""
		for _, id := range currentOrder {
			if _, pending := remaining[id]; !pending {
				continue
			}
			sq := byID[id]
			satisfied := true
			for _, depID := range sq.Dependencies {
				if _, done := processed[depID]; !done {
					satisfied = false
					break
				}
			}
			if !satisfied {
				continue
			}
			if next == "" || costs[id] < costs[next] {
				next = id
			}
		}
		if next == "" {
			break
		}
		order = append(order, next)
		delete(remaining, next)
		processed[next] = struct{}{}
	}
	return order
}

// hasCircularDependencies runs an iterative three-color DFS over the
// dependency edges. An explicit stack keeps deep chains from blowing
// the call stack.
func hasCircularDependencies(subQueries []types.SubQuery) bool {
	byID := subQueryMap(subQueries)

	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(subQueries))

	type frame struct {
		id      string
		nextDep int
	}

	for _, start := range subQueries {
		if color[start.ID] != white {
			continue
		}

		stack := []frame{{id: start.ID}}
		color[start.ID] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			sq, ok := byID[top.id]
			if !ok || top.nextDep >= len(sq.Dependencies) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			depID := sq.Dependencies[top.nextDep]
			top.nextDep++

			switch color[depID] {
			case gray:
				return true
			case white:
				color[depID] = gray
				stack = append(stack, frame{id: depID})
			}
		}
	}
	return false
}

// resultsSufficient mirrors the adaptation gate: at least one result
// with mean confidence at or above 0.5.
func resultsSufficient(results []types.ResultRecord) bool {
	if len(results) == 0 {
		return false
	}
	return types.MeanConfidence(results) >= 0.5
}

func (p *Planner) broaderQueries(plan *types.RetrievalPlan, results []types.ResultRecord) []types.SubQuery {
	if len(results) == 0 || len(results) >= 3 {
		return nil
	}

	for _, sq := range plan.SubQueries {
		if sq.QueryType != types.QuerySimple {
			continue
		}
		return []types.SubQuery{{
			ID:            uuid.NewString(),
			OriginalQuery: sq.OriginalQuery,
			SubQueryText:  "related to " + sq.SubQueryText,
			QueryType:     types.QueryComplex,
			Entities:      sq.Entities,
			Priority:      sq.Priority + 1,
			Dependencies:  []string{sq.ID},
		}}
	}
	return nil
}

func subQueryMap(subQueries []types.SubQuery) map[string]types.SubQuery {
	byID := make(map[string]types.SubQuery, len(subQueries))
	for _, sq := range subQueries {
		byID[sq.ID] = sq
	}
	return byID
}
