// Package pool provides a bounded worker group for fan-out retrieval.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Task is one unit of work identified by a caller-chosen key.
type Task func(ctx context.Context) error

// Group executes a batch of keyed tasks with at most maxWorkers running
// concurrently, then reports per-key errors. It is one-shot: build,
// Go() tasks, Wait().
type Group struct {
	maxWorkers int
	sem        chan struct{}
	wg         sync.WaitGroup

	mu   sync.Mutex
	errs map[string]error

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewGroup creates a group with the given concurrency bound. A bound
// below 1 is raised to 1.
func NewGroup(maxWorkers int) *Group {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Group{
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
		errs:       make(map[string]error),
	}
}

// Go schedules task under key. It blocks only while all workers are
// busy and the context is live; a cancelled context records ctx.Err()
// for the key instead of running the task.
func (g *Group) Go(ctx context.Context, key string, task Task) {
	g.submitted.Add(1)
	g.wg.Add(1)

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		g.record(key, ctx.Err())
		g.wg.Done()
		return
	}

	go func() {
		defer g.wg.Done()
		defer func() { <-g.sem }()
		g.record(key, g.run(ctx, task))
	}()
}

func (g *Group) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (g *Group) record(key string, err error) {
	if err != nil {
		g.failed.Add(1)
	} else {
		g.completed.Add(1)
	}
	g.mu.Lock()
	g.errs[key] = err
	g.mu.Unlock()
}

// Wait blocks until every scheduled task finished and returns the
// per-key error map. Keys with a nil value succeeded.
func (g *Group) Wait() map[string]error {
	g.wg.Wait()
	out := make(map[string]error, len(g.errs))
	g.mu.Lock()
	for k, v := range g.errs {
		out[k] = v
	}
	g.mu.Unlock()
	return out
}

// Stats reports scheduling counters.
func (g *Group) Stats() Stats {
	return Stats{
		Submitted: g.submitted.Load(),
		Completed: g.completed.Load(),
		Failed:    g.failed.Load(),
	}
}

// Stats contains group counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
