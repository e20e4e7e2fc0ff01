package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/queryflow/config"
	"github.com/BaSui01/queryflow/types"
)

func newTestManager(t *testing.T, mutate func(*config.CacheConfig)) *Manager {
	t.Helper()
	cfg := config.Default().Cache
	if mutate != nil {
		mutate(&cfg)
	}
	return NewManager(cfg)
}

func TestManager_SetGet(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	require.NoError(t, m.Set("k", "v", time.Minute))

	v, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = m.Get("absent")
	assert.False(t, ok)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestManager_TTLExpiry(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	require.NoError(t, m.Set("k", "v", 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	_, ok := m.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), m.Stats().Expirations)
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestManager_RejectsBadEntries(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *config.CacheConfig) { c.MaxEntryBytes = 16 })

	err := m.Set("", "v", time.Minute)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))

	err = m.Set("k", nil, time.Minute)
	assert.True(t, types.IsErrorCode(err, types.ErrCache))

	err = m.Set("k", "a value much longer than sixteen bytes", time.Minute)
	assert.True(t, types.IsErrorCode(err, types.ErrCapacityExceeded))
}

func TestManager_EvictsLeastRecentlyAccessed(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *config.CacheConfig) { c.MaxEntries = 3 })

	require.NoError(t, m.Set("a", 1, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, m.Set("b", 2, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, m.Set("c", 3, time.Minute))
	time.Sleep(time.Millisecond)

	// Touch "a" so "b" becomes the coldest entry.
	_, ok := m.Get("a")
	require.True(t, ok)
	time.Sleep(time.Millisecond)

	require.NoError(t, m.Set("d", 4, time.Minute))

	_, ok = m.Get("b")
	assert.False(t, ok, "coldest entry should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := m.Get(key)
		assert.True(t, ok, "key %s should survive", key)
	}
	assert.Equal(t, int64(1), m.Stats().Evictions)
}

func TestManager_CapacityNeverExceeded(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *config.CacheConfig) { c.MaxEntries = 10 })
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Set("k"+strconv.Itoa(i), i, time.Minute))
		assert.LessOrEqual(t, m.Stats().Entries, 10)
	}
}

func TestManager_DeleteAndClear(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	require.NoError(t, m.Set("k", "v", time.Minute))

	assert.True(t, m.Delete("k"))
	assert.False(t, m.Delete("k"))

	require.NoError(t, m.Set("a", 1, time.Minute))
	require.NoError(t, m.Set("b", 2, time.Minute))
	assert.Equal(t, 2, m.Clear())
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestManager_InvalidatePattern(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	require.NoError(t, m.Set("query:1", "a", time.Minute))
	require.NoError(t, m.Set("query:2", "b", time.Minute))
	require.NoError(t, m.Set("plan:1", "c", time.Minute))

	removed, err := m.InvalidatePattern("query:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok := m.Get("plan:1")
	assert.True(t, ok)

	_, err = m.InvalidatePattern("[invalid")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))
}

func TestManager_Disabled(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(c *config.CacheConfig) { c.Enabled = false })

	require.NoError(t, m.Set("k", "v", time.Minute))
	_, ok := m.Get("k")
	assert.False(t, ok)

	// GetOrCompute degrades to a plain call.
	var calls atomic.Int32
	v, err := m.GetOrCompute(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "computed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "computed", v)

	_, err = m.GetOrCompute(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "computed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_GetOrComputeSingleFlight(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	var calls atomic.Int32
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.GetOrCompute(context.Background(), "shared", time.Minute, func(ctx context.Context) (any, error) {
				calls.Add(1)
				<-gate
				return "once", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "once", v)
		}()
	}
	// Give the goroutines a moment to pile onto the same flight.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	// Subsequent calls hit the cache.
	v, err := m.GetOrCompute(context.Background(), "shared", time.Minute, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "twice", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "once", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_GetOrComputeError(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	boom := errors.New("boom")
	_, err := m.GetOrCompute(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.GetOrCompute(context.Background(), "k", time.Minute, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))
}

func TestGenerateCacheKey(t *testing.T) {
	t.Parallel()

	a := GenerateCacheKey("query", "what is Go", map[string]any{"b": 2, "a": 1})
	b := GenerateCacheKey("query", "what is Go", map[string]any{"a": 1, "b": 2})
	assert.Equal(t, a, b, "map key order must not matter")

	c := GenerateCacheKey("query", "what is Rust", map[string]any{"a": 1, "b": 2})
	assert.NotEqual(t, a, c)

	assert.True(t, len(a) > len("query:"))
	assert.Equal(t, "query:", a[:6])
}
