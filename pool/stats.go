package pool

import "sync/atomic"

// counters is the set of monotonic cumulative counters backing Stats()
// (§6 observability table, invariant 7: counters never go backwards).
type counters struct {
	createdCount                     atomic.Int64
	destroyedCount                   atomic.Int64
	destroyedByEvictorCount          atomic.Int64
	destroyedByBorrowValidationCount atomic.Int64
	destroyedByAbandonedCount        atomic.Int64
	borrowedCount                    atomic.Int64
	returnedCount                    atomic.Int64

	totalBorrowWaitNanos atomic.Int64
	maxBorrowWaitNanos   atomic.Int64
}

func (c *counters) recordDestroy(mode DestroyMode, byEviction, byValidation bool) {
	c.destroyedCount.Add(1)
	switch {
	case mode == DestroyAbandoned:
		c.destroyedByAbandonedCount.Add(1)
	case byEviction:
		c.destroyedByEvictorCount.Add(1)
	case byValidation:
		c.destroyedByBorrowValidationCount.Add(1)
	}
}

func (c *counters) recordBorrowWait(waitNanos int64) {
	c.totalBorrowWaitNanos.Add(waitNanos)
	for {
		cur := c.maxBorrowWaitNanos.Load()
		if waitNanos <= cur || c.maxBorrowWaitNanos.CompareAndSwap(cur, waitNanos) {
			return
		}
	}
}

// Stats is a read-only snapshot of a pool's observability counters (§6).
type Stats struct {
	NumActive  int
	NumIdle    int
	NumWaiters int

	CreatedCount                     int64
	DestroyedCount                   int64
	DestroyedByEvictorCount          int64
	DestroyedByBorrowValidationCount int64
	DestroyedByAbandonedCount        int64
	BorrowedCount                    int64
	ReturnedCount                    int64

	MeanBorrowWaitNanos int64
	MaxBorrowWaitNanos  int64
}

func (c *counters) snapshot(numActive, numIdle, numWaiters int) Stats {
	borrowed := c.borrowedCount.Load()
	var mean int64
	if borrowed > 0 {
		mean = c.totalBorrowWaitNanos.Load() / borrowed
	}
	return Stats{
		NumActive:                         numActive,
		NumIdle:                           numIdle,
		NumWaiters:                        numWaiters,
		CreatedCount:                      c.createdCount.Load(),
		DestroyedCount:                    c.destroyedCount.Load(),
		DestroyedByEvictorCount:           c.destroyedByEvictorCount.Load(),
		DestroyedByBorrowValidationCount:  c.destroyedByBorrowValidationCount.Load(),
		DestroyedByAbandonedCount:         c.destroyedByAbandonedCount.Load(),
		BorrowedCount:                     borrowed,
		ReturnedCount:                     c.returnedCount.Load(),
		MeanBorrowWaitNanos:                mean,
		MaxBorrowWaitNanos:                 c.maxBorrowWaitNanos.Load(),
	}
}
