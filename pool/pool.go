// Package pool implements a generic, thread-safe object pool: a reusable
// container that amortizes the cost of creating expensive resources by
// keeping a bounded population of them alive, lending them to callers on
// request, and reclaiming them on return.
//
// ObjectPool is the single-keyspace variant (one homogeneous population);
// KeyedObjectPool is a family of independent sub-pools indexed by a
// caller-supplied key, sharing one global capacity cap.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ObjectPool is the core borrow/return/invalidate/clear/close surface (C8).
// It orchestrates the wrapper state machine (C1), idle store (C3),
// capacity gate (C4), waiter queue (C2), eviction policy (C5) and
// background evictor/abandoned sweeper (C6/C7).
type ObjectPool[T any] struct {
	cfg     Config[T]
	factory Factory[T]

	idle     *idleStore[T]
	waiters  *waiterQueue[T]
	capacity *capacityGate

	allMu sync.Mutex
	all   map[*T]*PooledObject[T]

	counters counters

	closed    atomic.Bool
	closeOnce sync.Once
	closedCh  chan struct{}

	evictWg   sync.WaitGroup
	evictStop chan struct{}

	logger zerolog.Logger
}

// NewPool constructs an ObjectPool from cfg, starting the background
// evictor if Config.TimeBetweenEvictionRuns is positive. Returns
// ErrConfigError if cfg is invalid (e.g. nil Factory).
func NewPool[T any](cfg Config[T]) (*ObjectPool[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &ObjectPool[T]{
		cfg:       cfg,
		factory:   cfg.Factory,
		idle:      newIdleStore[T](),
		waiters:   newWaiterQueue[T](),
		capacity:  newCapacityGate(cfg.MaxTotal),
		all:       make(map[*T]*PooledObject[T]),
		closedCh:  make(chan struct{}),
		evictStop: make(chan struct{}),
		logger:    cfg.Logger,
	}
	if cfg.TimeBetweenEvictionRuns > 0 {
		p.startEvictor()
	}
	return p, nil
}

// withMaxWait combines ctx's deadline with Config.MaxWait, returning a
// derived context canceled at whichever is sooner. MaxWait < 0 means "no
// additional deadline from config".
func (p *ObjectPool[T]) withMaxWait(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.MaxWait < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.MaxWait)
}

func classifyWaitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInterrupted
}

// Borrow obtains an instance from the pool, creating one if capacity
// allows, or blocking per Config.BlockWhenExhausted/MaxWait (§4.6 steps
// 1-4). Config.Fair is not consulted: waiters are always served in FIFO
// order.
func (p *ObjectPool[T]) Borrow(ctx context.Context) (*T, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	start := time.Now()
	if p.cfg.RemoveAbandonedOnBorrow {
		p.sweepAbandoned()
	}

	waitCtx, cancel := p.withMaxWait(ctx)
	defer cancel()

	var handed *PooledObject[T]
	for {
		var w *PooledObject[T]
		if handed != nil {
			w, handed = handed, nil
		} else {
			w = p.idle.take(p.cfg.LIFO)
		}

		if w != nil {
			obj, ok := p.tryServeIdle(waitCtx, w)
			if ok {
				p.finishBorrow(start)
				return obj, nil
			}
			continue // wrapper destroyed by validation/activation failure; retry
		}

		if p.capacity.tryAcquire() {
			created, err := p.createWrapper(waitCtx)
			if err != nil {
				p.capacity.release()
				return nil, err
			}
			p.finishBorrow(start)
			return created.Object(), nil
		}

		if p.closed.Load() {
			return nil, ErrPoolClosed
		}
		if !p.cfg.BlockWhenExhausted {
			return nil, ErrExhausted
		}

		handedOff, err := p.waitForHandoff(waitCtx)
		if err != nil {
			return nil, err
		}
		handed = handedOff
	}
}

// tryServeIdle runs activate (+ testOnBorrow validate) on a wrapper taken
// from the idle store or handed off by a waiter. ok=false means the
// wrapper was destroyed and the borrow loop should retry.
func (p *ObjectPool[T]) tryServeIdle(ctx context.Context, w *PooledObject[T]) (obj *T, ok bool) {
	if !w.allocate() {
		// Lost the race with an eviction test: flag the wrapper so the
		// evictor re-offers it at the head of the idle store once its test
		// completes. If the test finished in the meantime the wrapper is
		// IDLE again and is taken here; otherwise it is gone. Retry.
		if w.cas(StateEviction, StateEvictionReturnToHead) || !w.allocate() {
			return nil, false
		}
	}
	if p.cfg.LogAbandoned {
		w.setStack(captureStack())
	}
	if err := p.factory.Activate(ctx, w.Object()); err != nil {
		p.destroyWrapper(w, DestroyNormal, false, false)
		return nil, false
	}
	if p.cfg.TestOnBorrow && !p.factory.Validate(ctx, w.Object()) {
		p.destroyWrapper(w, DestroyNormal, false, true)
		return nil, false
	}
	return w.Object(), true
}

func (p *ObjectPool[T]) finishBorrow(start time.Time) {
	p.counters.borrowedCount.Add(1)
	p.counters.recordBorrowWait(time.Since(start).Nanoseconds())
}

// createWrapper runs Create (capacity already authorized by the caller),
// wraps the result, tracks it in allObjects, and allocates it. On factory
// error the caller releases capacity (§7: capacity is released before the
// error propagates).
func (p *ObjectPool[T]) createWrapper(ctx context.Context) (*PooledObject[T], error) {
	obj, err := p.factory.Create(ctx)
	if err != nil {
		return nil, wrapFactoryErr(err)
	}
	w := newPooledObject(obj, "")
	p.allMu.Lock()
	p.all[obj] = w
	p.allMu.Unlock()
	w.allocate()
	if p.cfg.LogAbandoned {
		w.setStack(captureStack())
	}
	p.counters.createdCount.Add(1)

	if p.cfg.TestOnCreate && !p.factory.Validate(ctx, obj) {
		// Destroy without releasing capacity: the caller releases it for
		// every error returned from here.
		w.markDestroyed()
		p.allMu.Lock()
		delete(p.all, obj)
		p.allMu.Unlock()
		if err := p.factory.Destroy(context.Background(), obj, DestroyNormal); err != nil {
			p.logger.Error().Err(err).Str("key", w.Key()).Msg("pool: destroy callback failed, swallowed")
		}
		p.counters.recordDestroy(DestroyNormal, false, true)
		return nil, ErrFactoryFailure
	}
	return w, nil
}

// waitForHandoff enqueues on the waiter queue and blocks until a wrapper is
// handed off, the context is done, or the pool closes (§4.2, §5).
func (p *ObjectPool[T]) waitForHandoff(ctx context.Context) (*PooledObject[T], error) {
	w := p.waiters.enqueue()
	select {
	case wrapper := <-w.slot:
		return wrapper, nil
	case <-p.closedCh:
		if p.waiters.remove(w) {
			return nil, ErrPoolClosed
		}
		return <-w.slot, nil
	case <-ctx.Done():
		if p.waiters.remove(w) {
			return nil, classifyWaitErr(ctx)
		}
		return <-w.slot, nil
	}
}

// Return gives obj back to the pool (§4.6). It must currently be on loan
// (ALLOCATED); otherwise ErrIllegalReturn, and neither validate nor
// passivate run nor are any counters touched for obj's wrapper.
func (p *ObjectPool[T]) Return(obj *T) error {
	w := p.lookup(obj)
	if w == nil || !w.beginReturn() {
		return ErrIllegalReturn
	}
	ctx := context.Background()

	if p.cfg.TestOnReturn && !p.factory.Validate(ctx, obj) {
		p.destroyWrapper(w, DestroyNormal, false, true)
		return nil
	}
	if err := p.factory.Passivate(ctx, obj); err != nil {
		p.destroyWrapper(w, DestroyNormal, false, false)
		return nil
	}

	p.counters.returnedCount.Add(1)

	if p.closed.Load() || (p.cfg.MaxIdle >= 0 && p.idle.len() >= p.cfg.MaxIdle) {
		p.destroyWrapper(w, DestroyNormal, false, false)
		return nil
	}

	w.deallocate()
	if p.waiters.handoff(w) {
		return nil
	}
	p.idle.addFirst(w)
	return nil
}

// Invalidate removes obj from the pool and destroys it unconditionally,
// regardless of its current state — unlike Return, §4.6 places no ALLOCATED
// precondition on Invalidate, so an idle instance is as valid a target as a
// borrowed one. Safe to call concurrently with eviction; destroy is
// idempotent by wrapper identity (invariant 6).
func (p *ObjectPool[T]) Invalidate(obj *T) error {
	w := p.entryFor(obj)
	if w == nil {
		return ErrIllegalReturn
	}
	p.idle.remove(w)
	w.invalidate()
	p.destroyWrapper(w, DestroyNormal, false, false)
	return nil
}

// AddObject creates an instance, passivates it, and places it directly in
// the idle store without borrowing it — useful for pre-loading a pool
// (supplemental feature, SPEC_FULL §B.1, grounded on
// liangfflia-go-commons-pool's AddObject/addIdleObject).
func (p *ObjectPool[T]) AddObject(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if !p.capacity.tryAcquire() {
		return ErrExhausted
	}
	w, err := p.createWrapper(ctx)
	if err != nil {
		p.capacity.release()
		return err
	}
	if err := p.factory.Passivate(ctx, w.Object()); err != nil {
		p.destroyWrapper(w, DestroyNormal, false, false)
		return nil
	}
	w.deallocate()
	if !p.waiters.handoff(w) {
		p.idle.addFirst(w)
	}
	return nil
}

// PreparePool tops the idle population up to Config.MinIdle, honoring
// capacity (supplemental feature, mirrors the evictor's own top-up in §4.7
// exposed as an explicit call).
func (p *ObjectPool[T]) PreparePool(ctx context.Context) error {
	for p.idle.len() < p.cfg.MinIdle {
		if err := p.AddObject(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Clear drains the idle store, destroying every idle wrapper. Borrowed
// instances are unaffected until returned.
func (p *ObjectPool[T]) Clear() {
	for _, w := range p.idle.drain() {
		p.destroyWrapper(w, DestroyNormal, false, false)
	}
}

// Close transitions the pool to closed: all current and future waiters
// observe ErrPoolClosed, idle instances are destroyed, and borrowed
// instances are destroyed as they are returned.
func (p *ObjectPool[T]) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.closeOnce.Do(func() { close(p.closedCh) })
	close(p.evictStop)
	p.evictWg.Wait()
	p.Clear()
}

// Stats returns a point-in-time snapshot of the pool's counters.
func (p *ObjectPool[T]) Stats() Stats {
	p.allMu.Lock()
	total := len(p.all)
	p.allMu.Unlock()
	idle := p.idle.len()
	active := total - idle
	return p.counters.snapshot(active, idle, p.waiters.len())
}

// lookup finds obj's wrapper, requiring it to currently be ALLOCATED —
// the precondition Return relies on (§4.6: return fails for an object not
// currently on loan).
func (p *ObjectPool[T]) lookup(obj *T) *PooledObject[T] {
	p.allMu.Lock()
	defer p.allMu.Unlock()
	w := p.all[obj]
	if w == nil || w.State() != StateAllocated {
		return nil
	}
	return w
}

// entryFor finds obj's wrapper regardless of its current state, failing
// only if obj is untracked or already INVALID. Invalidate uses this instead
// of lookup since it has no ALLOCATED precondition: an idle, borrowed, or
// mid-eviction-test wrapper are all valid invalidate targets.
func (p *ObjectPool[T]) entryFor(obj *T) *PooledObject[T] {
	p.allMu.Lock()
	defer p.allMu.Unlock()
	w := p.all[obj]
	if w == nil || w.State() == StateInvalid {
		return nil
	}
	return w
}

// destroyWrapper runs factory.Destroy exactly once for w (invariant 6),
// releases capacity, removes w from allObjects, and updates destroy
// counters. Destroy errors are logged and swallowed (§7) so a broken
// factory can never wedge the pool.
func (p *ObjectPool[T]) destroyWrapper(w *PooledObject[T], mode DestroyMode, byEviction, byValidation bool) {
	if !w.markDestroyed() {
		return
	}
	p.allMu.Lock()
	delete(p.all, w.Object())
	p.allMu.Unlock()

	if err := p.factory.Destroy(context.Background(), w.Object(), mode); err != nil {
		p.logger.Error().Err(err).Str("key", w.Key()).Msg("pool: destroy callback failed, swallowed")
	}
	p.capacity.release()
	p.counters.recordDestroy(mode, byEviction, byValidation)
}
