package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCapacityGateTryAcquireBounds(t *testing.T) {
	g := newCapacityGate(2)
	require.True(t, g.tryAcquire())
	require.True(t, g.tryAcquire())
	require.False(t, g.tryAcquire(), "third acquire must fail at limit 2")

	g.release()
	require.True(t, g.tryAcquire())
}

func TestCapacityGateUnbounded(t *testing.T) {
	g := newCapacityGate(-1)
	for i := 0; i < 1000; i++ {
		require.True(t, g.tryAcquire())
	}
}

func TestCapacityGateAcquireRespectsContext(t *testing.T) {
	g := newCapacityGate(1)
	require.True(t, g.tryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.acquire(ctx)
	require.Error(t, err)
}

func TestCapacityGateAcquireUnblocksOnRelease(t *testing.T) {
	g := newCapacityGate(1)
	require.True(t, g.tryAcquire())

	done := make(chan error, 1)
	go func() {
		done <- g.acquire(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	g.release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}
