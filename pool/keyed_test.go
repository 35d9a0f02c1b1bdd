package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type keyedCounterFactory struct {
	BaseKeyedFactory[string, int]
	next      atomic.Int64
	destroyed atomic.Int64
}

func (f *keyedCounterFactory) Create(ctx context.Context, key string) (*int, error) {
	v := int(f.next.Add(1))
	return &v, nil
}

func (f *keyedCounterFactory) Destroy(ctx context.Context, key string, obj *int, mode DestroyMode) error {
	f.destroyed.Add(1)
	return nil
}

func newTestKeyedPool(t *testing.T, maxTotal, maxPerKey int) (*KeyedObjectPool[string, int], *keyedCounterFactory) {
	t.Helper()
	f := &keyedCounterFactory{}
	cfg := DefaultKeyedConfig[string, int](f)
	cfg.MaxTotal = maxTotal
	cfg.MaxTotalPerKey = maxPerKey
	cfg.MaxIdle = maxTotal
	cfg.TimeBetweenEvictionRuns = 0
	kp, err := NewKeyedPool(cfg)
	require.NoError(t, err)
	return kp, f
}

func TestKeyedBorrowReturnRoundTrip(t *testing.T) {
	kp, f := newTestKeyedPool(t, 4, 2)
	defer kp.Close()

	obj, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, kp.Return(obj))
	require.Equal(t, int64(1), f.next.Load())

	stats := kp.StatsForKey("a")
	require.Equal(t, 1, stats.NumIdle)
}

func TestKeyedPoolIsolatesKeys(t *testing.T) {
	kp, _ := newTestKeyedPool(t, 4, 1)
	defer kp.Close()

	objA, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)
	objB, err := kp.Borrow(context.Background(), "b")
	require.NoError(t, err)
	require.NotSame(t, objA, objB)

	require.NoError(t, kp.Return(objA))
	require.NoError(t, kp.Return(objB))
}

func TestKeyedPerKeyCapacityBlocksIndependently(t *testing.T) {
	kp, _ := newTestKeyedPool(t, 4, 1)
	defer kp.Close()
	kp.cfg.BlockWhenExhausted = false

	_, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)

	_, err = kp.Borrow(context.Background(), "a")
	require.ErrorIs(t, err, ErrExhausted, "a second borrow under the same maxed-out key must fail even though global capacity remains")
}

func TestKeyedCapacityTransferReclaimsFromOtherKey(t *testing.T) {
	kp, f := newTestKeyedPool(t, 1, 1)
	defer kp.Close()
	kp.cfg.BlockWhenExhausted = false

	objA, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, kp.Return(objA)) // now idle under "a", holding the only global slot

	objB, err := kp.Borrow(context.Background(), "b")
	require.NoError(t, err, "borrowing under a new key must reclaim the idle instance under key a")
	require.NotNil(t, objB)
	require.Equal(t, int64(1), f.destroyed.Load(), "the idle instance under key a must have been destroyed to free capacity")
}

func TestKeyedInvalidateDestroys(t *testing.T) {
	kp, f := newTestKeyedPool(t, 4, 2)
	defer kp.Close()

	obj, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, kp.Invalidate(obj))
	require.Equal(t, int64(1), f.destroyed.Load())
}

func TestKeyedInvalidateDestroysIdleInstance(t *testing.T) {
	kp, f := newTestKeyedPool(t, 4, 2)
	defer kp.Close()

	obj, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, kp.Return(obj))
	require.Equal(t, 1, kp.StatsForKey("a").NumIdle, "object must be sitting IDLE in its sub-pool, not ALLOCATED")

	require.NoError(t, kp.Invalidate(obj), "Invalidate has no ALLOCATED precondition and must destroy an idle instance too")
	require.Equal(t, int64(1), f.destroyed.Load())
	require.Equal(t, 0, kp.StatsForKey("a").NumIdle)
}

func TestKeyedClearKeyRemovesEmptySubPool(t *testing.T) {
	kp, _ := newTestKeyedPool(t, 4, 2)
	defer kp.Close()

	obj, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, kp.Return(obj))

	kp.ClearKey("a")
	total, perKey := kp.NumWaiters()
	require.Equal(t, 0, total)
	require.NotContains(t, perKey, "a")
}

func TestKeyedSweepAbandoned(t *testing.T) {
	f := &keyedCounterFactory{}
	cfg := DefaultKeyedConfig[string, int](f)
	cfg.MaxTotal = 4
	cfg.MaxTotalPerKey = 2
	cfg.RemoveAbandonedTimeout = 10 * time.Millisecond
	cfg.RemoveAbandonedOnMaintenance = true
	cfg.TimeBetweenEvictionRuns = 0
	kp, err := NewKeyedPool(cfg)
	require.NoError(t, err)
	defer kp.Close()

	obj, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	kp.runMaintenanceCycle()

	require.Equal(t, int64(1), f.destroyed.Load())
	require.ErrorIs(t, kp.Return(obj), ErrIllegalReturn)
}

func TestKeyedCloseDestroysAllIdle(t *testing.T) {
	kp, f := newTestKeyedPool(t, 4, 2)
	objA, err := kp.Borrow(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, kp.Return(objA))
	objB, err := kp.Borrow(context.Background(), "b")
	require.NoError(t, err)
	require.NoError(t, kp.Return(objB))

	kp.Close()
	require.Equal(t, int64(2), f.destroyed.Load())

	_, err = kp.Borrow(context.Background(), "a")
	require.ErrorIs(t, err, ErrPoolClosed)
}
