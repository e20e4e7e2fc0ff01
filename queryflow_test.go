package queryflow

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/types"
)

// corpusRetrieval serves canned records keyed by a substring of the
// sub-query text and counts every invocation.
func corpusRetrieval(calls *atomic.Int64, corpus map[string][]types.ResultRecord) types.RetrievalFunc {
	return func(ctx context.Context, sq types.SubQuery) ([]types.ResultRecord, error) {
		calls.Add(1)
		lower := strings.ToLower(sq.SubQueryText)
		for needle, records := range corpus {
			if strings.Contains(lower, needle) {
				return records, nil
			}
		}
		return nil, nil
	}
}

func dataScienceCorpus() map[string][]types.ResultRecord {
	return map[string][]types.ResultRecord{
		"python": {
			{"id": "py1", "text": "Python dominates machine learning tooling", "confidence": 0.9, "source": "survey"},
		},
		"data science": {
			{"id": "r1", "text": "R is widely used for statistical analysis", "confidence": 0.8, "source": "survey"},
		},
		"caching": {
			{"id": "c1", "text": "Caching avoids repeated retrieval work", "confidence": 0.85},
		},
		"latency": {
			{"id": "l1", "text": "Cache hits cut tail latency sharply", "confidence": 0.75},
		},
	}
}

func TestEngine_New(t *testing.T) {
	t.Parallel()

	_, err := New(config.Default(), nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))

	bad := config.Default()
	bad.Reasoner.MaxSteps = 0
	_, err = New(bad, func(ctx context.Context, sq types.SubQuery) ([]types.ResultRecord, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestEngine_QueryEndToEnd(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	engine, err := New(config.Default(), corpusRetrieval(&calls, dataScienceCorpus()))
	require.NoError(t, err)

	answer, err := engine.Query(context.Background(), "Compare Python and R for data science")
	require.NoError(t, err)

	assert.Equal(t, "Compare Python and R for data science", answer.OriginalQuery)
	assert.Len(t, answer.ReasoningSteps, 2)
	assert.Len(t, answer.Sources, 2)
	assert.InDelta(t, 0.85, answer.Confidence, 1e-9)
	assert.Contains(t, answer.Answer, "Python dominates machine learning tooling")
	assert.Contains(t, answer.Answer, "Additionally: R is widely used for statistical analysis")
	assert.Equal(t, int64(2), calls.Load())
}

func TestEngine_QueryMultiStep(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	engine, err := New(config.Default(), corpusRetrieval(&calls, dataScienceCorpus()))
	require.NoError(t, err)

	answer, err := engine.Query(context.Background(),
		"Explain the impact of caching and how it affects latency")
	require.NoError(t, err)

	require.Len(t, answer.ReasoningSteps, 2)
	// Multi-step parts chain on their predecessor.
	assert.Empty(t, answer.ReasoningSteps[0].Query.Dependencies)
	assert.NotEmpty(t, answer.ReasoningSteps[1].Query.Dependencies)
	assert.NotEmpty(t, answer.Answer)
}

func TestEngine_QueryPythonDataScience(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	retrieve := func(ctx context.Context, sq types.SubQuery) ([]types.ResultRecord, error) {
		calls.Add(1)
		return []types.ResultRecord{
			{"id": sq.ID, "text": "Python is a programming language used across data science", "confidence": 0.9},
		}, nil
	}

	engine, err := New(config.Default(), retrieve)
	require.NoError(t, err)

	subQueries, err := engine.Decompose("What is Python and how is it used in data science?")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(subQueries), 2)
	for _, sq := range subQueries {
		assert.Equal(t, "What is Python and how is it used in data science?", sq.OriginalQuery)
	}

	answer, err := engine.Query(context.Background(),
		"What is Python and how is it used in data science?")
	require.NoError(t, err)

	assert.Greater(t, answer.Confidence, 0.85)
	assert.Contains(t, answer.Answer, "Python")
	assert.Equal(t, int64(len(subQueries)), calls.Load())
}

func TestEngine_QueryCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	engine, err := New(config.Default(), corpusRetrieval(&calls, dataScienceCorpus()))
	require.NoError(t, err)

	ctx := context.Background()
	first, err := engine.Query(ctx, "Compare Python and R for data science")
	require.NoError(t, err)
	retrievals := calls.Load()

	second, err := engine.Query(ctx, "Compare Python and R for data science")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, retrievals, calls.Load())
	assert.Equal(t, int64(1), engine.CacheStats().Hits)
}

func TestEngine_QueryCacheDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Cache.Enabled = false

	var calls atomic.Int64
	engine, err := New(cfg, corpusRetrieval(&calls, dataScienceCorpus()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = engine.Query(ctx, "Compare Python and R for data science")
	require.NoError(t, err)
	_, err = engine.Query(ctx, "Compare Python and R for data science")
	require.NoError(t, err)

	assert.Equal(t, int64(4), calls.Load())
}

func TestEngine_QueryValidation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	engine, err := New(config.Default(), corpusRetrieval(&calls, nil))
	require.NoError(t, err)

	_, err = engine.Query(context.Background(), "")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))

	_, err = engine.Query(context.Background(), "unbalanced (query")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))

	assert.Zero(t, calls.Load())
}

func TestEngine_InvalidateCache(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	engine, err := New(config.Default(), corpusRetrieval(&calls, dataScienceCorpus()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = engine.Query(ctx, "Compare Python and R for data science")
	require.NoError(t, err)

	removed, err := engine.InvalidateCache("query:*")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	before := calls.Load()
	_, err = engine.Query(ctx, "Compare Python and R for data science")
	require.NoError(t, err)
	assert.Greater(t, calls.Load(), before)
}

func TestEngine_PlanWithoutExecution(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	engine, err := New(config.Default(), corpusRetrieval(&calls, nil))
	require.NoError(t, err)

	plan, err := engine.Plan("Compare Python and R for data science")
	require.NoError(t, err)

	assert.Len(t, plan.SubQueries, 2)
	assert.Len(t, plan.ExecutionOrder, 2)
	assert.Greater(t, plan.EstimatedCost, 0.0)
	assert.Zero(t, calls.Load())
}

func TestEngine_MetricsRegistry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	retrieve := corpusRetrieval(&calls, dataScienceCorpus())

	plain, err := New(config.Default(), retrieve)
	require.NoError(t, err)
	assert.Nil(t, plain.MetricsRegistry())

	instrumented, err := New(config.Default(), retrieve, WithMetrics("queryflow_test"))
	require.NoError(t, err)
	require.NotNil(t, instrumented.MetricsRegistry())

	_, err = instrumented.Query(context.Background(), "Compare Python and R for data science")
	require.NoError(t, err)

	families, err := instrumented.MetricsRegistry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "queryflow_test_queries_total")
	assert.Contains(t, names, "queryflow_test_sub_queries_per_query")
}
