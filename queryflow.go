// Package queryflow provides a top-level entry point wiring the full
// query pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/queryflow"
//
//	engine, err := queryflow.New(config.Default(), retrieve)
//	answer, err := engine.Query(ctx, "compare Python and R for data science")
//
// The caller supplies a [types.RetrievalFunc] that resolves one
// sub-query against its knowledge base; everything else, from
// decomposition through answer synthesis and caching, happens inside
// the engine.
package queryflow

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/cache"
	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/decompose"
	"github.com/BaSui01/queryflow/internal/metrics"
	"github.com/BaSui01/queryflow/planner"
	"github.com/BaSui01/queryflow/reasoning"
	"github.com/BaSui01/queryflow/synthesis"
	"github.com/BaSui01/queryflow/types"
)

// Engine runs the pipeline: decompose, plan, optimize, reason,
// synthesize, with a query-level result cache in front. An Engine is
// safe for concurrent use.
type Engine struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	retrieve types.RetrievalFunc

	decomposer  *decompose.Decomposer
	planner     *planner.Planner
	optimizer   *planner.Optimizer
	reasoner    *reasoning.Reasoner
	synthesizer *synthesis.Synthesizer
	resolver    *synthesis.ConflictResolver
	cache       *cache.Manager
}

// Option configures the engine created by [New].
type Option func(*Engine)

// WithLogger sets a custom zap logger. Components receive it tagged
// with their own name.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics under the given namespace.
// The registry is reachable via [Engine.MetricsRegistry].
func WithMetrics(namespace string) Option {
	return func(e *Engine) {
		if namespace == "" {
			namespace = "queryflow"
		}
		e.metrics = metrics.NewCollector(namespace)
	}
}

// New creates an Engine from the given configuration and retrieval
// callback.
func New(cfg config.Config, retrieve types.RetrievalFunc, opts ...Option) (*Engine, error) {
	if retrieve == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "retrieval callback must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   zap.NewNop(),
		retrieve: retrieve,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.decomposer = decompose.New(cfg.Decomposer,
		decompose.WithLogger(e.logger))
	e.planner = planner.New(cfg.Planner,
		planner.WithLogger(e.logger))
	e.optimizer = planner.NewOptimizer(cfg.Optimizer,
		planner.WithOptimizerLogger(e.logger),
		planner.WithOptimizerMetrics(e.metrics))
	e.reasoner = reasoning.New(cfg.Reasoner,
		reasoning.WithLogger(e.logger),
		reasoning.WithOptimizer(e.optimizer),
		reasoning.WithMetrics(e.metrics))
	e.synthesizer = synthesis.New(cfg.Synthesizer,
		synthesis.WithLogger(e.logger),
		synthesis.WithMetrics(e.metrics))
	e.resolver = synthesis.NewConflictResolver(cfg.Synthesizer,
		synthesis.WithResolverLogger(e.logger),
		synthesis.WithResolverMetrics(e.metrics))
	e.cache = cache.NewManager(cfg.Cache,
		cache.WithLogger(e.logger),
		cache.WithMetrics(e.metrics))

	e.logger = e.logger.With(zap.String("component", "engine"))
	return e, nil
}

// Query answers a natural-language query end to end. Repeated queries
// are served from the cache while their TTL lasts; concurrent callers
// asking the same question share one pipeline run.
func (e *Engine) Query(ctx context.Context, query string) (*types.SynthesizedAnswer, error) {
	start := time.Now()
	queryType := string(e.decomposer.IdentifyQueryType(query))

	key := cache.GenerateCacheKey("query", query)
	v, err := e.cache.GetOrCompute(ctx, key, 0, func(ctx context.Context) (any, error) {
		return e.process(ctx, query)
	})
	if err != nil {
		e.metrics.RecordQuery(queryType, "error", time.Since(start))
		e.logger.Warn("query failed",
			zap.String("error_code", string(types.GetErrorCode(err))),
			zap.Error(err))
		return nil, err
	}

	answer, ok := v.(*types.SynthesizedAnswer)
	if !ok {
		e.metrics.RecordQuery(queryType, "error", time.Since(start))
		return nil, types.Errorf(types.ErrCache, "cached value has unexpected type %T", v)
	}

	e.metrics.RecordQuery(queryType, "success", time.Since(start))
	e.logger.Info("query answered",
		zap.String("query_type", queryType),
		zap.Float64("confidence", answer.Confidence),
		zap.Duration("elapsed", time.Since(start)))
	return answer, nil
}

// process runs one uncached pipeline pass.
func (e *Engine) process(ctx context.Context, query string) (*types.SynthesizedAnswer, error) {
	subQueries, err := e.decomposer.Decompose(query)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordDecomposition(len(subQueries))

	plan, err := e.planner.CreatePlan(subQueries)
	if err != nil {
		return nil, err
	}
	plan, err = e.planner.OptimizePlan(plan)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordPlanCost(plan.EstimatedCost)

	chain, err := e.reasoner.ExecuteChain(ctx, plan, e.retrieve)
	if err != nil {
		return nil, err
	}

	return e.synthesizer.SynthesizeResults(chain.ReasoningSteps, query)
}

// Decompose exposes query decomposition without running the pipeline.
func (e *Engine) Decompose(query string) ([]types.SubQuery, error) {
	return e.decomposer.Decompose(query)
}

// Plan builds and optimizes a retrieval plan for a query without
// executing it.
func (e *Engine) Plan(query string) (*types.RetrievalPlan, error) {
	subQueries, err := e.decomposer.Decompose(query)
	if err != nil {
		return nil, err
	}
	plan, err := e.planner.CreatePlan(subQueries)
	if err != nil {
		return nil, err
	}
	return e.planner.OptimizePlan(plan)
}

// Resolver returns the engine's conflict resolver for callers that
// inspect and settle conflicts themselves.
func (e *Engine) Resolver() *synthesis.ConflictResolver {
	return e.resolver
}

// CacheStats returns counters for the query-level cache.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// InvalidateCache removes cached answers matching a glob pattern, for
// example "query:*" for every cached query. It returns the number of
// entries removed.
func (e *Engine) InvalidateCache(pattern string) (int, error) {
	return e.cache.InvalidatePattern(pattern)
}

// MetricsRegistry returns the Prometheus registry behind [WithMetrics],
// or nil when metrics are disabled.
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.metrics.Registry()
}
