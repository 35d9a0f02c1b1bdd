package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdleStoreLIFOOrder(t *testing.T) {
	s := newIdleStore[int]()
	a := newPooledObject(new(int), "")
	b := newPooledObject(new(int), "")
	s.addFirst(a)
	s.addFirst(b)

	require.Equal(t, 2, s.len())
	require.Same(t, b, s.take(true))
	require.Same(t, a, s.take(true))
	require.Nil(t, s.take(true))
}

func TestIdleStoreFIFOOrder(t *testing.T) {
	s := newIdleStore[int]()
	a := newPooledObject(new(int), "")
	b := newPooledObject(new(int), "")
	s.addFirst(a)
	s.addFirst(b)

	require.Same(t, a, s.take(false))
	require.Same(t, b, s.take(false))
}

func TestIdleStoreRemoveArbitrary(t *testing.T) {
	s := newIdleStore[int]()
	a := newPooledObject(new(int), "")
	b := newPooledObject(new(int), "")
	c := newPooledObject(new(int), "")
	s.addFirst(a)
	s.addFirst(b)
	s.addFirst(c)

	require.True(t, s.remove(b))
	require.False(t, s.remove(b), "remove must be idempotent")
	require.Equal(t, 2, s.len())
}

func TestIdleStoreEvictionCursorPersistsAcrossSweeps(t *testing.T) {
	s := newIdleStore[int]()
	a := newPooledObject(new(int), "")
	b := newPooledObject(new(int), "")
	c := newPooledObject(new(int), "")
	// oldest-first order (tail to head) is a, b, c
	s.addLast(a)
	s.addFirst(b)
	s.addFirst(c)

	first := s.nextForEviction()
	require.Same(t, a, first)
	s.advanceCursor()

	second := s.nextForEviction()
	require.Same(t, b, second)
}

func TestIdleStoreTakeOldest(t *testing.T) {
	s := newIdleStore[int]()
	a := newPooledObject(new(int), "")
	b := newPooledObject(new(int), "")
	s.addLast(a)
	s.addFirst(b)

	require.Same(t, a, s.takeOldest())
	require.Equal(t, 1, s.len())
}

func TestIdleStoreDrain(t *testing.T) {
	s := newIdleStore[int]()
	s.addFirst(newPooledObject(new(int), ""))
	s.addFirst(newPooledObject(new(int), ""))

	drained := s.drain()
	require.Len(t, drained, 2)
	require.Equal(t, 0, s.len())
	require.Nil(t, s.nextForEviction())
}
