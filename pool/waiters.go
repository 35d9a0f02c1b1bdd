package pool

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// waiter is a single blocked borrower (§4.2). slot is a one-shot handoff
// cell: a returning/creating thread sends the wrapper directly into it,
// bypassing the idle store entirely, which is what keeps fair mode strictly
// FIFO and avoids a thundering herd on release.
type waiter[T any] struct {
	slot    chan *PooledObject[T]
	claimed atomic.Bool
	elem    *list.Element
}

func newWaiter[T any]() *waiter[T] {
	return &waiter[T]{slot: make(chan *PooledObject[T], 1)}
}

// waiterQueue is a FIFO of blocked waiters (C2). All operations are O(1)
// under a single short-held mutex; the mutex is never held across a
// blocking channel operation.
type waiterQueue[T any] struct {
	mu sync.Mutex
	q  *list.List
}

func newWaiterQueue[T any]() *waiterQueue[T] {
	return &waiterQueue[T]{q: list.New()}
}

// enqueue registers a new waiter at the tail and returns it.
func (wq *waiterQueue[T]) enqueue() *waiter[T] {
	w := newWaiter[T]()
	wq.mu.Lock()
	w.elem = wq.q.PushBack(w)
	wq.mu.Unlock()
	return w
}

// dequeueOne removes and claims the head waiter, returning nil if the queue
// is empty. The caller must then send a wrapper into the returned waiter's
// slot (buffered, so this never blocks).
func (wq *waiterQueue[T]) dequeueOne() *waiter[T] {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	e := wq.q.Front()
	if e == nil {
		return nil
	}
	w := e.Value.(*waiter[T])
	wq.q.Remove(e)
	w.elem = nil
	w.claimed.Store(true)
	return w
}

// remove cancels w (timeout/interrupt/close), returning true only if this
// call performed the cancellation — i.e. w was still queued and not already
// claimed by a concurrent dequeueOne. If it returns false, a handoff has
// already been (or is about to be) sent into w.slot and the caller must
// receive it rather than treat the wait as failed.
func (wq *waiterQueue[T]) remove(w *waiter[T]) bool {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if w.elem == nil {
		return false
	}
	if !w.claimed.CompareAndSwap(false, true) {
		return false
	}
	wq.q.Remove(w.elem)
	w.elem = nil
	return true
}

func (wq *waiterQueue[T]) len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return wq.q.Len()
}

// handoff hands w directly to the head waiter, if any, returning true if a
// waiter received it. Never blocks: the slot channel is buffered to 1 and
// dequeueOne guarantees exclusive ownership of the waiter before we send.
func (wq *waiterQueue[T]) handoff(w *PooledObject[T]) bool {
	waiter := wq.dequeueOne()
	if waiter == nil {
		return false
	}
	waiter.slot <- w
	return true
}
