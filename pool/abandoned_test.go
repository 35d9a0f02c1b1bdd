package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSweepAbandonedDestroysStaleBorrow(t *testing.T) {
	f := &counterFactory{}
	cfg := DefaultConfig[int](f)
	cfg.MaxTotal = 2
	cfg.RemoveAbandonedTimeout = 10 * time.Millisecond
	cfg.RemoveAbandonedOnMaintenance = true
	cfg.TimeBetweenEvictionRuns = 0
	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer p.Close()

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, obj)

	time.Sleep(20 * time.Millisecond)
	p.sweepAbandoned()

	require.Equal(t, int64(1), f.destroyed.Load())
	require.ErrorIs(t, p.Return(obj), ErrIllegalReturn, "an abandoned instance must no longer be returnable")
}

func TestSweepAbandonedIgnoresFreshBorrow(t *testing.T) {
	f := &counterFactory{}
	cfg := DefaultConfig[int](f)
	cfg.MaxTotal = 2
	cfg.RemoveAbandonedTimeout = time.Hour
	cfg.RemoveAbandonedOnMaintenance = true
	cfg.TimeBetweenEvictionRuns = 0
	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer p.Close()

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)

	p.sweepAbandoned()
	require.Equal(t, int64(0), f.destroyed.Load())
	require.NoError(t, p.Return(obj))
}

func TestCaptureStackNonEmpty(t *testing.T) {
	s := captureStack()
	require.NotEmpty(t, s)
}
