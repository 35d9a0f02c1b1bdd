package pool

import (
	"context"
	"time"
)

// startEvictor launches the background maintenance goroutine for a keyed
// pool. One goroutine, one ticker, shared across every sub-pool: each tick
// visits every currently-registered key in turn rather than running one
// ticker per key.
func (kp *KeyedObjectPool[K, T]) startEvictor() {
	kp.evictWg.Add(1)
	go func() {
		defer kp.evictWg.Done()
		ticker := time.NewTicker(kp.cfg.TimeBetweenEvictionRuns)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				kp.runMaintenanceCycle()
			case <-kp.evictStop:
				return
			}
		}
	}()
}

func (kp *KeyedObjectPool[K, T]) runMaintenanceCycle() {
	if kp.closed.Load() {
		return
	}
	kp.subsMu.Lock()
	subs := make([]*subPool[K, T], 0, len(kp.subs))
	for _, sp := range kp.subs {
		subs = append(subs, sp)
	}
	kp.subsMu.Unlock()

	for _, sp := range subs {
		kp.runMaintenanceCycleForSub(sp)
	}
}

func (kp *KeyedObjectPool[K, T]) runMaintenanceCycleForSub(sp *subPool[K, T]) {
	factory := kp.factoryFor(sp.key)
	toVisit := numEvictionTests(kp.cfg.NumTestsPerEvictionRun, sp.idle.len())
	for i := 0; i < toVisit; i++ {
		if !kp.evictOneCandidate(sp, factory) {
			break
		}
	}
	kp.topUpMinIdleSub(sp, factory)
	if kp.cfg.RemoveAbandonedOnMaintenance {
		kp.sweepAbandonedSub(sp, factory)
	}
}

// evictOneCandidate mirrors ObjectPool.evictOneCandidate (§4.7), scoped to
// one sub-pool's idle store and cursor.
func (kp *KeyedObjectPool[K, T]) evictOneCandidate(sp *subPool[K, T], factory Factory[T]) bool {
	w := sp.idle.nextForEviction()
	if w == nil {
		return false
	}

	if !w.startEvictionTest() {
		sp.idle.advanceCursor()
		return true
	}

	if kp.cfg.TestWhileIdle {
		if !factory.Validate(context.Background(), w.Object()) {
			sp.idle.remove(w)
			kp.destroyWrapper(w, sp, factory, DestroyNormal, true, false)
			return true
		}
	}

	idleCount := sp.idle.len()
	if kp.cfg.policy().Evict(kp.cfg.evictionConfig(), w.IdleDuration(), idleCount) {
		sp.idle.remove(w)
		kp.destroyWrapper(w, sp, factory, DestroyNormal, true, false)
		return true
	}

	if returnToHead := w.endEvictionTest(); returnToHead {
		sp.idle.remove(w)
		sp.idle.addFirst(w)
		return true
	}

	sp.idle.advanceCursor()
	return true
}

// topUpMinIdleSub mirrors ObjectPool.topUpMinIdle (§4.7 final step), using
// the per-key MinIdle override when set.
func (kp *KeyedObjectPool[K, T]) topUpMinIdleSub(sp *subPool[K, T], factory Factory[T]) {
	ctx := context.Background()
	minIdle := kp.cfg.minIdleForKey()
	for sp.idle.len() < minIdle {
		if !kp.tryAcquireBoth(sp) {
			return
		}
		w, err := kp.createWrapper(ctx, factory, sp, sp.key)
		if err != nil {
			kp.releaseBoth(sp)
			return
		}
		if err := factory.Passivate(ctx, w.Object()); err != nil {
			kp.destroyWrapper(w, sp, factory, DestroyNormal, false, false)
			continue
		}
		w.deallocate()
		if !sp.waiters.handoff(w) {
			sp.idle.addFirst(w)
		}
	}
}

// sweepAbandonedSub mirrors ObjectPool.sweepAbandoned (C7, §4.8) scoped to
// one sub-pool's borrowed instances.
func (kp *KeyedObjectPool[K, T]) sweepAbandonedSub(sp *subPool[K, T], factory Factory[T]) {
	if kp.cfg.RemoveAbandonedTimeout <= 0 {
		return
	}
	kp.allMu.Lock()
	candidates := make([]*PooledObject[T], 0)
	for _, e := range kp.all {
		if e.sp == sp && e.w.State() == StateAllocated {
			candidates = append(candidates, e.w)
		}
	}
	kp.allMu.Unlock()

	cutoff := time.Now().Add(-kp.cfg.RemoveAbandonedTimeout)
	for _, w := range candidates {
		if w.LastUseTime().After(cutoff) {
			continue
		}
		if !w.markAbandoned() {
			continue
		}
		if kp.cfg.LogAbandoned {
			kp.logger.Warn().
				Str("key", w.Key()).
				Int64("borrowedCount", w.BorrowedCount()).
				Dur("activeFor", w.ActiveDuration()).
				Str("borrowStack", w.Stack()).
				Msg("keyed pool: abandoned object removed")
		}
		kp.destroyWrapper(w, sp, factory, DestroyAbandoned, false, false)
	}
}
