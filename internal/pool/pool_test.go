package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_RunsAllTasks(t *testing.T) {
	t.Parallel()

	g := NewGroup(4)
	var ran atomic.Int32
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		g.Go(context.Background(), key, func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	errs := g.Wait()

	assert.Equal(t, int32(5), ran.Load())
	require.Len(t, errs, 5)
	for key, err := range errs {
		assert.NoError(t, err, "key %s", key)
	}
	assert.Equal(t, int64(5), g.Stats().Completed)
}

func TestGroup_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 2
	g := NewGroup(workers)
	var active, peak atomic.Int32
	gate := make(chan struct{})

	for i := 0; i < 6; i++ {
		g.Go(context.Background(), string(rune('a'+i)), func(ctx context.Context) error {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			<-gate
			active.Add(-1)
			return nil
		})
	}
	close(gate)
	g.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestGroup_RecordsErrorsPerKey(t *testing.T) {
	t.Parallel()

	g := NewGroup(2)
	boom := errors.New("boom")
	g.Go(context.Background(), "ok", func(ctx context.Context) error { return nil })
	g.Go(context.Background(), "bad", func(ctx context.Context) error { return boom })
	errs := g.Wait()

	assert.NoError(t, errs["ok"])
	assert.ErrorIs(t, errs["bad"], boom)
	assert.Equal(t, int64(1), g.Stats().Failed)
}

func TestGroup_RecoversPanics(t *testing.T) {
	t.Parallel()

	g := NewGroup(1)
	g.Go(context.Background(), "p", func(ctx context.Context) error {
		panic("kaboom")
	})
	errs := g.Wait()

	require.Error(t, errs["p"])
	assert.Contains(t, errs["p"].Error(), "task panicked")
}

func TestGroup_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGroup(1)
	gate := make(chan struct{})
	// Occupy the single worker so the second Go hits the cancelled select.
	g.Go(context.Background(), "busy", func(ctx context.Context) error {
		<-gate
		return nil
	})
	g.Go(ctx, "late", func(ctx context.Context) error { return nil })
	close(gate)
	errs := g.Wait()

	assert.ErrorIs(t, errs["late"], context.Canceled)
}
