package pool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// capacityGate is a counted-semaphore-like gate bounding live instances
// (C4, §4.4). limit < 0 means unbounded, in which case sem is nil and
// acquisition always succeeds immediately.
//
// Built on golang.org/x/sync/semaphore.Weighted rather than a hand-rolled
// counter+sync.Cond: Weighted already gives context-cancelable Acquire for
// free, which is exactly the deadline/interrupt contract §5 and §7 require
// at every blocking point, not only here.
type capacityGate struct {
	limit int64
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

func newCapacityGate(limit int) *capacityGate {
	g := &capacityGate{limit: int64(limit)}
	if limit >= 0 {
		g.sem = semaphore.NewWeighted(int64(limit))
	}
	return g
}

// tryAcquire attempts a non-blocking acquisition.
func (g *capacityGate) tryAcquire() bool {
	if g.sem == nil {
		g.inUse.Add(1)
		return true
	}
	if g.sem.TryAcquire(1) {
		g.inUse.Add(1)
		return true
	}
	return false
}

// acquire blocks until capacity is available or ctx is done.
func (g *capacityGate) acquire(ctx context.Context) error {
	if g.sem == nil {
		g.inUse.Add(1)
		return nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inUse.Add(1)
	return nil
}

// release returns one unit of capacity.
func (g *capacityGate) release() {
	g.inUse.Add(-1)
	if g.sem != nil {
		g.sem.Release(1)
	}
}

func (g *capacityGate) inUseCount() int64 { return g.inUse.Load() }

func (g *capacityGate) limitValue() int { return int(g.limit) }
