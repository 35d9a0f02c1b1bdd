package pool

import (
	"context"
	"math"
	"time"
)

// startEvictor launches the background maintenance goroutine (C6). One
// goroutine, one ticker, shared by eviction and (when enabled) the
// abandoned-object sweep (§4.8: "on each evictor tick").
func (p *ObjectPool[T]) startEvictor() {
	p.evictWg.Add(1)
	go func() {
		defer p.evictWg.Done()
		ticker := time.NewTicker(p.cfg.TimeBetweenEvictionRuns)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.runMaintenanceCycle()
			case <-p.evictStop:
				return
			}
		}
	}()
}

// numEvictionTests resolves Config.NumTestsPerEvictionRun against the
// current idle count, per §4.7's numeric semantics: negative means visit
// ceil(|Idle| / |n|) per run.
func numEvictionTests(n, idleLen int) int {
	if idleLen == 0 {
		return 0
	}
	if n >= 0 {
		if n > idleLen {
			return idleLen
		}
		return n
	}
	share := int(math.Ceil(float64(idleLen) / float64(-n)))
	if share > idleLen {
		return idleLen
	}
	return share
}

// runMaintenanceCycle performs one evictor sweep: visit up to
// NumTestsPerEvictionRun idle wrappers via the persistent cursor (§4.7),
// then top up to MinIdle, then (if enabled) sweep abandoned borrows.
func (p *ObjectPool[T]) runMaintenanceCycle() {
	if p.closed.Load() {
		return
	}
	toVisit := numEvictionTests(p.cfg.NumTestsPerEvictionRun, p.idle.len())
	for i := 0; i < toVisit; i++ {
		if !p.evictOneCandidate() {
			break
		}
	}
	p.topUpMinIdle()
	if p.cfg.RemoveAbandonedOnMaintenance {
		p.sweepAbandoned()
	}
}

// evictOneCandidate visits the evictor cursor's next wrapper (§4.7 steps
// 1-4). Returns false if there was nothing to visit.
func (p *ObjectPool[T]) evictOneCandidate() bool {
	w := p.idle.nextForEviction()
	if w == nil {
		return false
	}

	if !w.startEvictionTest() {
		// A borrower raced us and took it from the idle store already; the
		// cursor may have been repositioned by that take() concurrently
		// with our peek, so this advance can occasionally skip one extra
		// candidate under contention. Harmless: no invariant depends on
		// visiting every idle wrapper in a single sweep (§9 open question).
		p.idle.advanceCursor()
		return true
	}

	if p.cfg.TestWhileIdle {
		if !p.factory.Validate(context.Background(), w.Object()) {
			// remove() repositions the cursor itself; no extra advance.
			p.idle.remove(w)
			p.destroyWrapper(w, DestroyNormal, true, false)
			return true
		}
	}

	idleCount := p.idle.len()
	if p.cfg.policy().Evict(p.cfg.evictionConfig(), w.IdleDuration(), idleCount) {
		p.idle.remove(w)
		p.destroyWrapper(w, DestroyNormal, true, false)
		return true
	}

	if returnToHead := w.endEvictionTest(); returnToHead {
		// A concurrent borrow raced the test (§4.1): move to the head so
		// it is found promptly.
		p.idle.remove(w)
		p.idle.addFirst(w)
		return true
	}

	// Wrapper stays in place, CAS'd back to IDLE: advance past it normally.
	p.idle.advanceCursor()
	return true
}

// topUpMinIdle creates fresh instances until the idle population reaches
// Config.MinIdle, honoring capacity (§4.7 final step).
func (p *ObjectPool[T]) topUpMinIdle() {
	ctx := context.Background()
	for p.idle.len() < p.cfg.MinIdle {
		if !p.capacity.tryAcquire() {
			return
		}
		w, err := p.createWrapper(ctx)
		if err != nil {
			p.capacity.release()
			return
		}
		if err := p.factory.Passivate(ctx, w.Object()); err != nil {
			p.destroyWrapper(w, DestroyNormal, false, false)
			continue
		}
		w.deallocate()
		if !p.waiters.handoff(w) {
			p.idle.addFirst(w)
		}
	}
}

// sweepAbandoned enumerates borrowed instances and destroys any whose last
// use predates Config.RemoveAbandonedTimeout (C7, §4.8).
func (p *ObjectPool[T]) sweepAbandoned() {
	if p.cfg.RemoveAbandonedTimeout <= 0 {
		return
	}
	p.allMu.Lock()
	candidates := make([]*PooledObject[T], 0, len(p.all))
	for _, w := range p.all {
		if w.State() == StateAllocated {
			candidates = append(candidates, w)
		}
	}
	p.allMu.Unlock()

	cutoff := time.Now().Add(-p.cfg.RemoveAbandonedTimeout)
	for _, w := range candidates {
		if w.LastUseTime().After(cutoff) {
			continue
		}
		if !w.markAbandoned() {
			continue // borrowed again or already returned/destroyed
		}
		if p.cfg.LogAbandoned {
			p.logger.Warn().
				Str("key", w.Key()).
				Int64("borrowedCount", w.BorrowedCount()).
				Dur("activeFor", w.ActiveDuration()).
				Str("borrowStack", w.Stack()).
				Msg("pool: abandoned object removed")
		}
		p.destroyWrapper(w, DestroyAbandoned, false, false)
	}
}
