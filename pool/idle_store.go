package pool

import (
	"container/list"
	"sync"
	"time"
)

// idleStore is an ordered multiset of wrappers in the IDLE state (C3). It
// supports O(1) add-first/add-last/take-first/take-last and O(1)
// remove-arbitrary by identity, plus an evictor cursor that persists across
// sweeps so a busy pool's idle population is swept fairly over time
// (§4.7). Backed by container/list the way liangfflia-go-commons-pool backs
// its idle store with a LinkedBlockingDeque: the teacher's lock-free stack
// (pool/pool.go) was not reused here, since it offers no O(1) arbitrary
// removal and no oldest-first traversal, both required by §4.3/§4.7.
type idleStore[T any] struct {
	mu     sync.Mutex
	l      *list.List
	lookup map[*PooledObject[T]]*list.Element

	// cursor is the evictor's persistent position, always pointing at the
	// next candidate in oldest-first (back-to-front) order.
	cursor *list.Element
}

func newIdleStore[T any]() *idleStore[T] {
	return &idleStore[T]{
		l:      list.New(),
		lookup: make(map[*PooledObject[T]]*list.Element),
	}
}

// addFirst places w at the head (most recently idled). Both Return and
// eviction's "re-offer at head" path always add here; only take() direction
// differs by LIFO/FIFO.
func (s *idleStore[T]) addFirst(w *PooledObject[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup[w] = s.l.PushFront(w)
}

// addLast places w at the tail (oldest), where it is the next candidate
// for takeOldest and for a fresh eviction cursor. The pool's own return,
// pre-load and top-up paths use addFirst.
func (s *idleStore[T]) addLast(w *PooledObject[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup[w] = s.l.PushBack(w)
}

// take removes and returns the head (lifo=true) or tail (lifo=false)
// wrapper, or nil if empty.
func (s *idleStore[T]) take(lifo bool) *PooledObject[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var e *list.Element
	if lifo {
		e = s.l.Front()
	} else {
		e = s.l.Back()
	}
	if e == nil {
		return nil
	}
	s.removeElementLocked(e)
	return e.Value.(*PooledObject[T])
}

// remove removes w if present, idempotent. Returns true if it was removed.
func (s *idleStore[T]) remove(w *PooledObject[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup[w]
	if !ok {
		return false
	}
	s.removeElementLocked(e)
	return true
}

// removeElementLocked removes e, fixing up the evictor cursor if it was
// pointing at e.
func (s *idleStore[T]) removeElementLocked(e *list.Element) {
	w := e.Value.(*PooledObject[T])
	if s.cursor == e {
		s.cursor = e.Prev()
	}
	delete(s.lookup, w)
	s.l.Remove(e)
}

func (s *idleStore[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.Len()
}

// nextForEviction returns up to the next wrapper in the persistent
// oldest-first cursor, without removing it. Call advanceCursor after
// deciding the wrapper's fate.
func (s *idleStore[T]) nextForEviction() *PooledObject[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l.Len() == 0 {
		s.cursor = nil
		return nil
	}
	if s.cursor == nil {
		s.cursor = s.l.Back()
	}
	return s.cursor.Value.(*PooledObject[T])
}

// advanceCursor moves the cursor toward the front (newer entries), wrapping
// to nil (meaning "restart at the back") once the front is passed. Call it
// once per nextForEviction when the wrapper it returned was left in place;
// removing that wrapper already moves the cursor past it, so no advance
// follows a remove.
func (s *idleStore[T]) advanceCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return
	}
	s.cursor = s.cursor.Prev()
}

// takeOldest removes and returns the tail (oldest) wrapper regardless of
// the pool's LIFO/FIFO take() discipline. Used by the keyed pool's
// capacity-transfer policy (§4.9), which always reclaims the oldest idle
// instance under the most-loaded other key.
func (s *idleStore[T]) takeOldest() *PooledObject[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.l.Back()
	if e == nil {
		return nil
	}
	s.removeElementLocked(e)
	return e.Value.(*PooledObject[T])
}

// oldestIdleDuration returns the idle duration of the oldest wrapper (tail)
// without removing it, or 0 if empty. Used to tie-break capacity transfer.
func (s *idleStore[T]) oldestIdleDuration() (time.Duration, bool) {
	s.mu.Lock()
	e := s.l.Back()
	s.mu.Unlock()
	if e == nil {
		return 0, false
	}
	return e.Value.(*PooledObject[T]).IdleDuration(), true
}

// drain removes and returns every idle wrapper, oldest-first, resetting the
// cursor. Used by Clear/Close.
func (s *idleStore[T]) drain() []*PooledObject[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PooledObject[T], 0, s.l.Len())
	for e := s.l.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(*PooledObject[T]))
	}
	s.l.Init()
	s.lookup = make(map[*PooledObject[T]]*list.Element)
	s.cursor = nil
	return out
}
