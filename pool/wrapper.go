package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a PooledObject. Transitions form a DAG;
// Invalid is terminal.
type State int32

const (
	StateIdle State = iota
	StateAllocated
	StateEviction
	StateEvictionReturnToHead
	StateValidation
	StateValidationPreEviction
	StateValidationReturnToHead
	StateInvalid
	StateAbandoned
	StateReturning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAllocated:
		return "ALLOCATED"
	case StateEviction:
		return "EVICTION"
	case StateEvictionReturnToHead:
		return "EVICTION_RETURN_TO_HEAD"
	case StateValidation:
		return "VALIDATION"
	case StateValidationPreEviction:
		return "VALIDATION_PREEVICTION"
	case StateValidationReturnToHead:
		return "VALIDATION_RETURN_TO_HEAD"
	case StateInvalid:
		return "INVALID"
	case StateAbandoned:
		return "ABANDONED"
	case StateReturning:
		return "RETURNING"
	default:
		return "UNKNOWN"
	}
}

// PooledObject is the per-instance control block (C1). It owns the user
// resource exclusively until destruction and is the single source of truth
// for concurrent coordination on that instance: the state field is mutated
// only atomically (CAS, or an unconditional store for invalidate), never
// under a lock.
type PooledObject[T any] struct {
	object *T

	state     atomic.Int32
	destroyed atomic.Bool

	// key is the keyed-pool partition this wrapper belongs to; empty for a
	// single-keyspace pool.
	key string

	// timestamps are monotonic (time.Time retains a monotonic reading as
	// long as it isn't round-tripped through Unix nanos) and are touched far
	// less often than state, so a small mutex is cheaper than threading more
	// CAS loops through every transition.
	mu             sync.Mutex
	createTime     time.Time
	lastBorrowTime time.Time
	lastReturnTime time.Time
	lastUseTime    time.Time

	borrowedCount atomic.Int64

	// stack is an optional borrow call-stack snapshot, captured only when
	// LogAbandoned is enabled; formatting/symbolization is the caller's
	// concern (§9 design notes: an external collaborator).
	stack string
}

func newPooledObject[T any](obj *T, key string) *PooledObject[T] {
	now := time.Now()
	w := &PooledObject[T]{object: obj, key: key}
	w.state.Store(int32(StateIdle))
	w.createTime = now
	w.lastReturnTime = now
	w.lastUseTime = now
	return w
}

// Object returns the wrapped resource.
func (w *PooledObject[T]) Object() *T { return w.object }

// Key returns the keyed-pool partition this wrapper belongs to, or "" for a
// single-keyspace pool.
func (w *PooledObject[T]) Key() string { return w.key }

// State returns the current lifecycle state.
func (w *PooledObject[T]) State() State { return State(w.state.Load()) }

func (w *PooledObject[T]) cas(from, to State) bool {
	return w.state.CompareAndSwap(int32(from), int32(to))
}

// allocate transitions IDLE -> ALLOCATED, bumping borrowedCount and
// lastBorrowTime/lastUseTime. Fails if the wrapper is not IDLE.
func (w *PooledObject[T]) allocate() bool {
	if !w.cas(StateIdle, StateAllocated) {
		return false
	}
	now := time.Now()
	w.mu.Lock()
	w.lastBorrowTime = now
	w.lastUseTime = now
	w.mu.Unlock()
	w.borrowedCount.Add(1)
	return true
}

// deallocate transitions ALLOCATED|RETURNING -> IDLE, setting
// lastReturnTime. Fails otherwise.
func (w *PooledObject[T]) deallocate() bool {
	if !w.cas(StateReturning, StateIdle) && !w.cas(StateAllocated, StateIdle) {
		return false
	}
	w.mu.Lock()
	w.lastReturnTime = time.Now()
	w.mu.Unlock()
	return true
}

// beginReturn transitions ALLOCATED -> RETURNING, the first step of the
// return path (§4.6 return step 2), before validate/passivate run.
func (w *PooledObject[T]) beginReturn() bool {
	return w.cas(StateAllocated, StateReturning)
}

// invalidate unconditionally transitions to INVALID. Terminal.
func (w *PooledObject[T]) invalidate() {
	w.state.Store(int32(StateInvalid))
}

// markAbandoned transitions ALLOCATED -> ABANDONED.
func (w *PooledObject[T]) markAbandoned() bool {
	return w.cas(StateAllocated, StateAbandoned)
}

// startEvictionTest transitions IDLE -> EVICTION. If a concurrent borrow
// races the test, it observes EVICTION and CASes to
// EVICTION_RETURN_TO_HEAD so the evictor knows to re-offer the wrapper at
// the head of the idle store once the test completes.
func (w *PooledObject[T]) startEvictionTest() bool {
	return w.cas(StateIdle, StateEviction)
}

// endEvictionTest resolves an EVICTION/EVICTION_RETURN_TO_HEAD test back to
// IDLE (or reports that a racing borrow wants the wrapper re-offered at the
// head of the idle store).
func (w *PooledObject[T]) endEvictionTest() (returnToHead bool) {
	if w.cas(StateEviction, StateIdle) {
		return false
	}
	if w.cas(StateEvictionReturnToHead, StateIdle) {
		return true
	}
	return false
}

// startIdleValidation transitions IDLE -> VALIDATION_PREEVICTION when
// preEviction is set, otherwise IDLE -> VALIDATION. endIdleValidation
// resolves either state (or VALIDATION_RETURN_TO_HEAD) back to IDLE, with
// the same return-to-head reporting as endEvictionTest. The evictor does not
// use this pair: it validates while the wrapper is in EVICTION.
func (w *PooledObject[T]) startIdleValidation(preEviction bool) bool {
	if preEviction {
		return w.cas(StateIdle, StateValidationPreEviction)
	}
	return w.cas(StateIdle, StateValidation)
}

func (w *PooledObject[T]) endIdleValidation() (returnToHead bool) {
	if w.cas(StateValidation, StateIdle) || w.cas(StateValidationPreEviction, StateIdle) {
		return false
	}
	if w.cas(StateValidationReturnToHead, StateIdle) {
		return true
	}
	return false
}

// IdleDuration returns now - lastReturnTime. Meaningful only while IDLE.
func (w *PooledObject[T]) IdleDuration() time.Duration {
	w.mu.Lock()
	t := w.lastReturnTime
	w.mu.Unlock()
	return time.Since(t)
}

// ActiveDuration returns now - lastBorrowTime. Meaningful only while
// ALLOCATED.
func (w *PooledObject[T]) ActiveDuration() time.Duration {
	w.mu.Lock()
	t := w.lastBorrowTime
	w.mu.Unlock()
	return time.Since(t)
}

// LastUseTime returns the most recent factory-reported use time, defaulting
// to lastBorrowTime.
func (w *PooledObject[T]) LastUseTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUseTime
}

// setStack records a borrow call-stack snapshot, used for abandonment
// diagnostics when LogAbandoned is enabled.
func (w *PooledObject[T]) setStack(s string) {
	w.mu.Lock()
	w.stack = s
	w.mu.Unlock()
}

// Stack returns the most recently captured borrow call-stack snapshot, or
// "" if LogAbandoned was never enabled for this wrapper's borrow.
func (w *PooledObject[T]) Stack() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stack
}

func (w *PooledObject[T]) touchUse() {
	w.mu.Lock()
	w.lastUseTime = time.Now()
	w.mu.Unlock()
}

// CreateTime returns when the wrapper was created.
func (w *PooledObject[T]) CreateTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.createTime
}

// BorrowedCount returns how many times this wrapper has been borrowed.
func (w *PooledObject[T]) BorrowedCount() int64 {
	return w.borrowedCount.Load()
}

// markDestroyed reports whether this call is the one that should run
// destroy: exactly one caller per wrapper ever observes true (invariant 6,
// §3), making destroy safe to call from invalidate, eviction, validation
// failure, abandonment and close without duplicate factory.Destroy calls.
func (w *PooledObject[T]) markDestroyed() bool {
	return w.destroyed.CompareAndSwap(false, true)
}
