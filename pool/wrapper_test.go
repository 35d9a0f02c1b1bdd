package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPooledObjectAllocateDeallocate(t *testing.T) {
	obj := new(int)
	w := newPooledObject(obj, "")
	require.Equal(t, StateIdle, w.State())

	require.True(t, w.allocate())
	require.Equal(t, StateAllocated, w.State())
	require.False(t, w.allocate(), "double allocate must fail")

	require.True(t, w.beginReturn())
	require.Equal(t, StateReturning, w.State())

	require.True(t, w.deallocate())
	require.Equal(t, StateIdle, w.State())
}

func TestPooledObjectInvalidateIsTerminal(t *testing.T) {
	w := newPooledObject(new(int), "")
	w.invalidate()
	require.Equal(t, StateInvalid, w.State())
	require.False(t, w.allocate())
}

func TestPooledObjectEvictionRace(t *testing.T) {
	w := newPooledObject(new(int), "")
	require.True(t, w.startEvictionTest())

	// A concurrent borrow CASes EVICTION -> EVICTION_RETURN_TO_HEAD.
	require.True(t, w.cas(StateEviction, StateEvictionReturnToHead))

	returnToHead := w.endEvictionTest()
	require.True(t, returnToHead)
	require.Equal(t, StateIdle, w.State())
}

func TestPooledObjectMarkDestroyedOnce(t *testing.T) {
	w := newPooledObject(new(int), "")
	require.True(t, w.markDestroyed())
	require.False(t, w.markDestroyed(), "markDestroyed must fire exactly once")
}

func TestPooledObjectMarkAbandoned(t *testing.T) {
	w := newPooledObject(new(int), "")
	require.False(t, w.markAbandoned(), "cannot abandon an idle wrapper")
	require.True(t, w.allocate())
	require.True(t, w.markAbandoned())
	require.Equal(t, StateAbandoned, w.State())
}
