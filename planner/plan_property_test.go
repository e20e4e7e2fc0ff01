package planner

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/types"
)

// randomDAG builds n sub-queries where each node may depend on a subset
// of earlier nodes, so the graph is acyclic by construction.
func randomDAG(n int, edges []int) []types.SubQuery {
	queryTypes := []types.QueryType{types.QuerySimple, types.QueryComplex, types.QueryMultiStep}
	subs := make([]types.SubQuery, n)
	for i := 0; i < n; i++ {
		id := "q" + strconv.Itoa(i)
		var deps []string
		if i > 0 && len(edges) > 0 {
			// Derive a deterministic dependency choice from the seed.
			pick := edges[i%len(edges)] % i
			if pick >= 0 && edges[(i+1)%len(edges)]%2 == 0 {
				deps = append(deps, "q"+strconv.Itoa(pick))
			}
		}
		subs[i] = types.SubQuery{
			ID:            id,
			OriginalQuery: "original",
			SubQueryText:  "part " + strconv.Itoa(i),
			QueryType:     queryTypes[i%len(queryTypes)],
			Priority:      i,
			Dependencies:  deps,
		}
	}
	return subs
}

func orderIndex(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, id := range order {
		idx[id] = i
	}
	return idx
}

func dependenciesPrecede(subs []types.SubQuery, order []string) bool {
	idx := orderIndex(order)
	for _, sq := range subs {
		for _, dep := range sq.Dependencies {
			if idx[dep] >= idx[sq.ID] {
				return false
			}
		}
	}
	return true
}

func TestProperty_PlanCoversEverySubQueryExactlyOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	p := New(config.Default().Planner)

	properties.Property("execution order is a permutation respecting dependencies", prop.ForAll(
		func(n int, edges []int) bool {
			subs := randomDAG(n, edges)
			plan, err := p.CreatePlan(subs)
			if err != nil {
				t.Logf("CreatePlan failed: %v", err)
				return false
			}

			if len(plan.ExecutionOrder) != len(subs) {
				t.Logf("expected %d entries, got %d", len(subs), len(plan.ExecutionOrder))
				return false
			}
			seen := make(map[string]struct{}, len(plan.ExecutionOrder))
			for _, id := range plan.ExecutionOrder {
				if _, dup := seen[id]; dup {
					t.Logf("duplicate id %s in order", id)
					return false
				}
				seen[id] = struct{}{}
				if _, ok := plan.SubQueryByID(id); !ok {
					t.Logf("order references unknown id %s", id)
					return false
				}
			}
			if !dependenciesPrecede(subs, plan.ExecutionOrder) {
				t.Logf("dependency placed after dependent")
				return false
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.SliceOfN(8, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestProperty_CyclesAlwaysRejected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	p := New(config.Default().Planner)

	properties.Property("a chain with a back edge never plans", prop.ForAll(
		func(n int) bool {
			subs := make([]types.SubQuery, n)
			for i := 0; i < n; i++ {
				var deps []string
				if i > 0 {
					deps = []string{"q" + strconv.Itoa(i-1)}
				}
				subs[i] = types.SubQuery{
					ID:           "q" + strconv.Itoa(i),
					SubQueryText: "part",
					QueryType:    types.QuerySimple,
					Priority:     i,
					Dependencies: deps,
				}
			}
			// Close the loop: first node depends on the last.
			subs[0].Dependencies = []string{"q" + strconv.Itoa(n-1)}

			_, err := p.CreatePlan(subs)
			if err == nil {
				t.Logf("expected cycle error for n=%d", n)
				return false
			}
			return types.IsErrorCode(err, types.ErrCycleDetected)
		},
		gen.IntRange(1, 25),
	))

	properties.TestingRun(t)
}

func TestProperty_OptimizationNeverRegresses(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	p := New(config.Default().Planner)

	properties.Property("optimized plans keep the same queries at no higher cost", prop.ForAll(
		func(n int, edges []int) bool {
			subs := randomDAG(n, edges)
			plan, err := p.CreatePlan(subs)
			if err != nil {
				t.Logf("CreatePlan failed: %v", err)
				return false
			}

			optimized, err := p.OptimizePlan(plan)
			if err != nil {
				t.Logf("OptimizePlan failed: %v", err)
				return false
			}

			if optimized.EstimatedCost > plan.EstimatedCost+1e-9 {
				t.Logf("cost regressed: %f -> %f", plan.EstimatedCost, optimized.EstimatedCost)
				return false
			}
			if len(optimized.ExecutionOrder) != len(plan.ExecutionOrder) {
				t.Logf("order length changed")
				return false
			}
			if !dependenciesPrecede(subs, optimized.ExecutionOrder) {
				t.Logf("optimization broke dependency order")
				return false
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.SliceOfN(8, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
