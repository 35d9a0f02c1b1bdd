package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// keyedEntry is what KeyedObjectPool tracks per live instance in its
// global allObjects index: the wrapper plus enough to route Return/
// Invalidate back to the owning sub-pool and factory view without encoding
// the key into the wrapper itself (PooledObject is shared, unparameterized
// by K, with ObjectPool).
type keyedEntry[K comparable, T any] struct {
	w  *PooledObject[T]
	sp *subPool[K, T]
}

// subPool is one key's private idle store, capacity gate and waiter queue
// (§4.9). numActive is derived from localCap (instances consumed from the
// per-key budget minus those currently idle), not tracked separately.
type subPool[K comparable, T any] struct {
	key      K
	idle     *idleStore[T]
	localCap *capacityGate
	waiters  *waiterQueue[T]
	counters counters
}

func (sp *subPool[K, T]) numActive() int64 {
	return sp.localCap.inUseCount() - int64(sp.idle.len())
}

// KeyedObjectPool is a family of independent sub-pools indexed by a
// caller-supplied key, sharing one global capacity cap (C9, §4.9). It
// reuses the same wrapper/idle-store/waiter-queue/capacity-gate machinery
// as ObjectPool rather than duplicating it, since §2 counts C9 as an
// orchestration layer sharing 14% of the core, not a parallel
// reimplementation.
type KeyedObjectPool[K comparable, T any] struct {
	cfg    KeyedConfig[K, T]
	global *capacityGate

	allMu sync.Mutex
	all   map[*T]*keyedEntry[K, T]

	subsMu  sync.Mutex
	subs    map[K]*subPool[K, T]
	keyList []K // insertion order; Clear walks the keys in this order
	rrIdx   int

	closed    atomic.Bool
	closeOnce sync.Once
	closedCh  chan struct{}

	evictWg   sync.WaitGroup
	evictStop chan struct{}

	logger zerolog.Logger
}

func NewKeyedPool[K comparable, T any](cfg KeyedConfig[K, T]) (*KeyedObjectPool[K, T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	kp := &KeyedObjectPool[K, T]{
		cfg:       cfg,
		global:    newCapacityGate(cfg.MaxTotal),
		all:       make(map[*T]*keyedEntry[K, T]),
		subs:      make(map[K]*subPool[K, T]),
		closedCh:  make(chan struct{}),
		evictStop: make(chan struct{}),
		logger:    cfg.Logger,
	}
	if cfg.TimeBetweenEvictionRuns > 0 {
		kp.startEvictor()
	}
	return kp, nil
}

func (kp *KeyedObjectPool[K, T]) withMaxWait(ctx context.Context) (context.Context, context.CancelFunc) {
	if kp.cfg.MaxWait < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, kp.cfg.MaxWait)
}

func (kp *KeyedObjectPool[K, T]) getOrCreateSub(key K) *subPool[K, T] {
	kp.subsMu.Lock()
	defer kp.subsMu.Unlock()
	sp, ok := kp.subs[key]
	if ok {
		return sp
	}
	sp = &subPool[K, T]{
		key:      key,
		idle:     newIdleStore[T](),
		localCap: newCapacityGate(kp.cfg.MaxTotalPerKey),
		waiters:  newWaiterQueue[T](),
	}
	kp.subs[key] = sp
	kp.keyList = append(kp.keyList, key)
	return sp
}

func (kp *KeyedObjectPool[K, T]) factoryFor(key K) Factory[T] {
	return perKeyFactoryView[K, T]{key: key, kf: kp.cfg.KeyedFactory}
}

// Borrow obtains an instance scoped to key, following the same loop
// structure as ObjectPool.Borrow but acquiring capacity in two steps
// (per-key then global, §4.4) and, on global exhaustion, attempting a
// capacity transfer from the most-loaded other key (§4.9) before blocking.
func (kp *KeyedObjectPool[K, T]) Borrow(ctx context.Context, key K) (*T, error) {
	if kp.closed.Load() {
		return nil, ErrPoolClosed
	}
	start := time.Now()
	sp := kp.getOrCreateSub(key)
	factory := kp.factoryFor(key)

	if kp.cfg.RemoveAbandonedOnBorrow {
		kp.sweepAbandonedSub(sp, factory)
	}

	waitCtx, cancel := kp.withMaxWait(ctx)
	defer cancel()

	var handed *PooledObject[T]
	transferAttempted := false
	for {
		var w *PooledObject[T]
		if handed != nil {
			w, handed = handed, nil
		} else {
			w = sp.idle.take(kp.cfg.LIFO)
		}

		if w != nil {
			obj, ok := kp.tryServeIdle(waitCtx, factory, w)
			if ok {
				kp.finishBorrow(sp, start)
				return obj, nil
			}
			continue
		}

		if kp.tryAcquireBoth(sp) {
			created, err := kp.createWrapper(waitCtx, factory, sp, key)
			if err != nil {
				kp.releaseBoth(sp)
				return nil, err
			}
			kp.finishBorrow(sp, start)
			return created.Object(), nil
		}

		localLimit := sp.localCap.limitValue()
		localFull := localLimit >= 0 && sp.localCap.inUseCount() >= int64(localLimit)
		if !transferAttempted && !localFull && kp.tryCapacityTransfer(key) {
			transferAttempted = true
			continue
		}

		if kp.closed.Load() {
			return nil, ErrPoolClosed
		}
		if !kp.cfg.BlockWhenExhausted {
			return nil, ErrExhausted
		}

		handedOff, err := kp.waitForHandoff(waitCtx, sp)
		if err != nil {
			return nil, err
		}
		handed = handedOff
		transferAttempted = false
	}
}

func (kp *KeyedObjectPool[K, T]) tryAcquireBoth(sp *subPool[K, T]) bool {
	if !sp.localCap.tryAcquire() {
		return false
	}
	if !kp.global.tryAcquire() {
		sp.localCap.release()
		return false
	}
	return true
}

func (kp *KeyedObjectPool[K, T]) releaseBoth(sp *subPool[K, T]) {
	kp.global.release()
	sp.localCap.release()
}

// tryCapacityTransfer destroys the oldest idle instance under the
// most-loaded key other than excludeKey, freeing a global (and that key's
// local) capacity slot (§4.9 "clear-oldest" policy).
func (kp *KeyedObjectPool[K, T]) tryCapacityTransfer(excludeKey K) bool {
	victim := kp.mostLoadedOtherKey(excludeKey)
	if victim == nil {
		return false
	}
	w := victim.idle.takeOldest()
	if w == nil {
		return false
	}
	kp.destroyWrapper(w, victim, kp.factoryFor(victim.key), DestroyNormal, false, false)
	return true
}

func (kp *KeyedObjectPool[K, T]) mostLoadedOtherKey(excludeKey K) *subPool[K, T] {
	kp.subsMu.Lock()
	candidates := make([]*subPool[K, T], 0, len(kp.subs))
	for k, sp := range kp.subs {
		if k == excludeKey {
			continue
		}
		if sp.idle.len() > 0 {
			candidates = append(candidates, sp)
		}
	}
	kp.subsMu.Unlock()

	var best *subPool[K, T]
	var bestActive int64 = -1
	var bestIdleAge time.Duration
	for _, sp := range candidates {
		active := sp.numActive()
		age, ok := sp.idle.oldestIdleDuration()
		if !ok {
			continue
		}
		if active > bestActive || (active == bestActive && age > bestIdleAge) {
			best, bestActive, bestIdleAge = sp, active, age
		}
	}
	return best
}

func (kp *KeyedObjectPool[K, T]) tryServeIdle(ctx context.Context, factory Factory[T], w *PooledObject[T]) (*T, bool) {
	if !w.allocate() {
		// Lost the race with an eviction test: flag the wrapper so the
		// evictor re-offers it at the head of the idle store once its test
		// completes. If the test finished in the meantime the wrapper is
		// IDLE again and is taken here; otherwise it is gone. Retry.
		if w.cas(StateEviction, StateEvictionReturnToHead) || !w.allocate() {
			return nil, false
		}
	}
	if kp.cfg.LogAbandoned {
		w.setStack(captureStack())
	}
	if err := factory.Activate(ctx, w.Object()); err != nil {
		kp.destroyAllocated(w, DestroyNormal, false, false)
		return nil, false
	}
	if kp.cfg.TestOnBorrow && !factory.Validate(ctx, w.Object()) {
		kp.destroyAllocated(w, DestroyNormal, false, true)
		return nil, false
	}
	return w.Object(), true
}

func (kp *KeyedObjectPool[K, T]) finishBorrow(sp *subPool[K, T], start time.Time) {
	sp.counters.borrowedCount.Add(1)
	wait := time.Since(start).Nanoseconds()
	sp.counters.recordBorrowWait(wait)
}

func (kp *KeyedObjectPool[K, T]) createWrapper(ctx context.Context, factory Factory[T], sp *subPool[K, T], key K) (*PooledObject[T], error) {
	obj, err := factory.Create(ctx)
	if err != nil {
		return nil, wrapFactoryErr(err)
	}
	w := newPooledObject(obj, fmt.Sprint(key))
	kp.allMu.Lock()
	kp.all[obj] = &keyedEntry[K, T]{w: w, sp: sp}
	kp.allMu.Unlock()
	w.allocate()
	if kp.cfg.LogAbandoned {
		w.setStack(captureStack())
	}
	sp.counters.createdCount.Add(1)

	if kp.cfg.TestOnCreate && !factory.Validate(ctx, obj) {
		// Destroy without releasing capacity: the caller releases both
		// gates for every error returned from here.
		w.markDestroyed()
		kp.allMu.Lock()
		delete(kp.all, obj)
		kp.allMu.Unlock()
		if err := factory.Destroy(context.Background(), obj, DestroyNormal); err != nil {
			kp.logger.Error().Err(err).Str("key", w.Key()).Msg("pool: destroy callback failed, swallowed")
		}
		sp.counters.recordDestroy(DestroyNormal, false, true)
		return nil, ErrFactoryFailure
	}
	return w, nil
}

func (kp *KeyedObjectPool[K, T]) waitForHandoff(ctx context.Context, sp *subPool[K, T]) (*PooledObject[T], error) {
	w := sp.waiters.enqueue()
	select {
	case wrapper := <-w.slot:
		return wrapper, nil
	case <-kp.closedCh:
		if sp.waiters.remove(w) {
			return nil, ErrPoolClosed
		}
		return <-w.slot, nil
	case <-ctx.Done():
		if sp.waiters.remove(w) {
			return nil, classifyWaitErr(ctx)
		}
		return <-w.slot, nil
	}
}

// Return gives obj back to its owning sub-pool, mirroring
// ObjectPool.Return (§4.6).
func (kp *KeyedObjectPool[K, T]) Return(obj *T) error {
	w := kp.lookup(obj)
	if w == nil || !w.beginReturn() {
		return ErrIllegalReturn
	}
	sp, factory := kp.subAndFactory(w)
	ctx := context.Background()

	if kp.cfg.TestOnReturn && !factory.Validate(ctx, obj) {
		kp.destroyAllocated(w, DestroyNormal, false, true)
		return nil
	}
	if err := factory.Passivate(ctx, obj); err != nil {
		kp.destroyAllocated(w, DestroyNormal, false, false)
		return nil
	}

	sp.counters.returnedCount.Add(1)

	maxIdle := kp.cfg.maxIdleForKey()
	if kp.closed.Load() || (maxIdle >= 0 && sp.idle.len() >= maxIdle) {
		kp.destroyAllocated(w, DestroyNormal, false, false)
		return nil
	}

	w.deallocate()
	if sp.waiters.handoff(w) {
		return nil
	}
	sp.idle.addFirst(w)
	return nil
}

// Invalidate removes obj from the pool and destroys it unconditionally,
// regardless of its current state — unlike Return, §4.6 places no ALLOCATED
// precondition on Invalidate, so an idle instance is as valid a target as a
// borrowed one.
func (kp *KeyedObjectPool[K, T]) Invalidate(obj *T) error {
	e := kp.entryFor(obj)
	if e == nil {
		return ErrIllegalReturn
	}
	w, sp := e.w, e.sp
	factory := kp.factoryFor(sp.key)
	sp.idle.remove(w)
	w.invalidate()
	kp.destroyWrapper(w, sp, factory, DestroyNormal, false, false)
	return nil
}

// Clear drains every sub-pool's idle store. ClearKey drains only key's,
// and removes the sub-pool entirely once it is both empty and idle,
// matching §3's keyed-pool-state contract.
func (kp *KeyedObjectPool[K, T]) Clear() {
	kp.subsMu.Lock()
	keys := make([]K, len(kp.keyList))
	copy(keys, kp.keyList)
	kp.subsMu.Unlock()
	for _, k := range keys {
		kp.ClearKey(k)
	}
}

func (kp *KeyedObjectPool[K, T]) ClearKey(key K) {
	kp.subsMu.Lock()
	sp, ok := kp.subs[key]
	kp.subsMu.Unlock()
	if !ok {
		return
	}
	factory := kp.factoryFor(key)
	for _, w := range sp.idle.drain() {
		kp.destroyWrapper(w, sp, factory, DestroyNormal, false, false)
	}
	kp.maybeRemoveSub(key, sp)
}

func (kp *KeyedObjectPool[K, T]) maybeRemoveSub(key K, sp *subPool[K, T]) {
	kp.subsMu.Lock()
	defer kp.subsMu.Unlock()
	if sp.idle.len() == 0 && sp.numActive() == 0 {
		delete(kp.subs, key)
		for i, k := range kp.keyList {
			if k == key {
				kp.keyList = append(kp.keyList[:i], kp.keyList[i+1:]...)
				break
			}
		}
	}
}

func (kp *KeyedObjectPool[K, T]) Close() {
	if !kp.closed.CompareAndSwap(false, true) {
		return
	}
	kp.closeOnce.Do(func() { close(kp.closedCh) })
	close(kp.evictStop)
	kp.evictWg.Wait()
	kp.Clear()
}

func (kp *KeyedObjectPool[K, T]) lookup(obj *T) *PooledObject[T] {
	kp.allMu.Lock()
	defer kp.allMu.Unlock()
	e := kp.all[obj]
	if e == nil || e.w.State() != StateAllocated {
		return nil
	}
	return e.w
}

// entryFor returns the tracked entry for obj, or nil if untracked or already
// INVALID. Unlike lookup, it does not require the wrapper to still be
// ALLOCATED, since Invalidate and other destroy paths need to route by key
// regardless of state (an idle or mid-eviction-test wrapper is still a
// valid target).
func (kp *KeyedObjectPool[K, T]) entryFor(obj *T) *keyedEntry[K, T] {
	kp.allMu.Lock()
	defer kp.allMu.Unlock()
	e := kp.all[obj]
	if e == nil || e.w.State() == StateInvalid {
		return nil
	}
	return e
}

// subAndFactory recovers the owning sub-pool and factory view for w via the
// global allObjects index, the key having been recorded at createWrapper
// time rather than round-tripped through the wrapper's string Key().
func (kp *KeyedObjectPool[K, T]) subAndFactory(w *PooledObject[T]) (*subPool[K, T], Factory[T]) {
	e := kp.entryFor(w.Object())
	if e == nil {
		return nil, nil
	}
	return e.sp, kp.factoryFor(e.sp.key)
}

// destroyAllocated destroys a wrapper that is known to still be tracked
// under its own key's sub-pool (the common borrow/return failure paths).
func (kp *KeyedObjectPool[K, T]) destroyAllocated(w *PooledObject[T], mode DestroyMode, byEviction, byValidation bool) {
	sp, factory := kp.subAndFactory(w)
	if sp == nil {
		return
	}
	kp.destroyWrapper(w, sp, factory, mode, byEviction, byValidation)
}

// destroyWrapper runs the keyed factory's Destroy exactly once (invariant
// 6), releases both the per-key and global capacity (§4.4 release is the
// reverse of the two-step acquire), and updates counters.
func (kp *KeyedObjectPool[K, T]) destroyWrapper(w *PooledObject[T], sp *subPool[K, T], factory Factory[T], mode DestroyMode, byEviction, byValidation bool) {
	if !w.markDestroyed() {
		return
	}
	kp.allMu.Lock()
	delete(kp.all, w.Object())
	kp.allMu.Unlock()

	if err := factory.Destroy(context.Background(), w.Object(), mode); err != nil {
		kp.logger.Error().Err(err).Str("key", w.Key()).Msg("pool: destroy callback failed, swallowed")
	}
	kp.releaseBoth(sp)
	sp.counters.recordDestroy(mode, byEviction, byValidation)
}

// Stats returns the aggregate counters across all keys plus the global
// active/idle/waiter counts.
func (kp *KeyedObjectPool[K, T]) Stats() Stats {
	kp.allMu.Lock()
	total := len(kp.all)
	kp.allMu.Unlock()

	kp.subsMu.Lock()
	defer kp.subsMu.Unlock()
	idle := 0
	waiters := 0
	var agg counters
	for _, sp := range kp.subs {
		idle += sp.idle.len()
		waiters += sp.waiters.len()
		agg.createdCount.Add(sp.counters.createdCount.Load())
		agg.destroyedCount.Add(sp.counters.destroyedCount.Load())
		agg.destroyedByEvictorCount.Add(sp.counters.destroyedByEvictorCount.Load())
		agg.destroyedByBorrowValidationCount.Add(sp.counters.destroyedByBorrowValidationCount.Load())
		agg.destroyedByAbandonedCount.Add(sp.counters.destroyedByAbandonedCount.Load())
		agg.borrowedCount.Add(sp.counters.borrowedCount.Load())
		agg.returnedCount.Add(sp.counters.returnedCount.Load())
		agg.totalBorrowWaitNanos.Add(sp.counters.totalBorrowWaitNanos.Load())
		if m := sp.counters.maxBorrowWaitNanos.Load(); m > agg.maxBorrowWaitNanos.Load() {
			agg.maxBorrowWaitNanos.Store(m)
		}
	}
	return agg.snapshot(total-idle, idle, waiters)
}

// StatsForKey returns per-key counters (§6 "per-key equivalents").
func (kp *KeyedObjectPool[K, T]) StatsForKey(key K) Stats {
	kp.subsMu.Lock()
	sp, ok := kp.subs[key]
	kp.subsMu.Unlock()
	if !ok {
		return Stats{}
	}
	idle := sp.idle.len()
	return sp.counters.snapshot(int(sp.numActive()), idle, sp.waiters.len())
}

// NumWaiters returns the total and per-key count of blocked borrowers
// (§4.9 getNumWaiters).
func (kp *KeyedObjectPool[K, T]) NumWaiters() (total int, perKey map[K]int) {
	kp.subsMu.Lock()
	defer kp.subsMu.Unlock()
	perKey = make(map[K]int, len(kp.subs))
	for k, sp := range kp.subs {
		n := sp.waiters.len()
		perKey[k] = n
		total += n
	}
	return total, perKey
}
