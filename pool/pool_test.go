package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// counterFactory manufactures *int instances, counting lifecycle calls for
// assertions. Embeds BaseFactory so only Create needs a body by default;
// individual tests override the hooks they care about via the function
// fields.
type counterFactory struct {
	BaseFactory[int]

	next      atomic.Int64
	destroyed atomic.Int64

	validateFn func(obj *int) bool
	createErr  error
}

func (f *counterFactory) Create(ctx context.Context) (*int, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	v := int(f.next.Add(1))
	return &v, nil
}

func (f *counterFactory) Validate(ctx context.Context, obj *int) bool {
	if f.validateFn != nil {
		return f.validateFn(obj)
	}
	return true
}

func (f *counterFactory) Destroy(ctx context.Context, obj *int, mode DestroyMode) error {
	f.destroyed.Add(1)
	return nil
}

func newTestPool(t *testing.T, maxTotal int) (*ObjectPool[int], *counterFactory) {
	t.Helper()
	f := &counterFactory{}
	cfg := DefaultConfig[int](f)
	cfg.MaxTotal = maxTotal
	cfg.MaxIdle = maxTotal
	cfg.TimeBetweenEvictionRuns = 0
	p, err := NewPool(cfg)
	require.NoError(t, err)
	return p, f
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	p, f := newTestPool(t, 2)
	defer p.Close()

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, obj)
	require.Equal(t, int64(1), f.next.Load())

	require.NoError(t, p.Return(obj))
	stats := p.Stats()
	require.Equal(t, 0, stats.NumActive)
	require.Equal(t, 1, stats.NumIdle)
}

func TestBorrowReusesIdleInstance(t *testing.T) {
	p, f := newTestPool(t, 2)
	defer p.Close()

	obj1, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Return(obj1))

	obj2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.Same(t, obj1, obj2, "a returned idle instance should be reused, not re-created")
	require.Equal(t, int64(1), f.next.Load())
}

func TestBorrowNonBlockingExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1)
	defer p.Close()
	p.cfg.BlockWhenExhausted = false

	_, err := p.Borrow(context.Background())
	require.NoError(t, err)

	_, err = p.Borrow(context.Background())
	require.ErrorIs(t, err, ErrExhausted)
}

func TestBorrowNeverExceedsMaxTotal(t *testing.T) {
	const maxTotal = 4
	p, _ := newTestPool(t, maxTotal)
	defer p.Close()
	p.cfg.BlockWhenExhausted = false

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < maxTotal*5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Borrow(context.Background()); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, succeeded.Load(), int64(maxTotal))
}

func TestReturnIllegalForUnknownObject(t *testing.T) {
	p, _ := newTestPool(t, 1)
	defer p.Close()

	require.ErrorIs(t, p.Return(new(int)), ErrIllegalReturn)
}

func TestReturnIllegalWhenNotOnLoan(t *testing.T) {
	p, _ := newTestPool(t, 1)
	defer p.Close()

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Return(obj))
	require.ErrorIs(t, p.Return(obj), ErrIllegalReturn, "a double return must be rejected")
}

func TestBorrowTimesOutWhenExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1)
	defer p.Close()
	p.cfg.MaxWait = 30 * time.Millisecond

	_, err := p.Borrow(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Borrow(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestBorrowUnblocksOnReturn(t *testing.T) {
	p, _ := newTestPool(t, 1)
	defer p.Close()
	p.cfg.MaxWait = time.Second

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)

	var got *int
	var borrowErr error
	done := make(chan struct{})
	go func() {
		got, borrowErr = p.Borrow(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Return(obj))

	select {
	case <-done:
		require.NoError(t, borrowErr)
		require.Same(t, obj, got)
	case <-time.After(time.Second):
		t.Fatal("blocked borrow never unblocked after return")
	}
}

func TestInvalidateDestroysRegardlessOfState(t *testing.T) {
	p, f := newTestPool(t, 1)
	defer p.Close()

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Invalidate(obj))
	require.Equal(t, int64(1), f.destroyed.Load())

	// capacity must have been released
	obj2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, obj2)
}

func TestInvalidateDestroysIdleInstance(t *testing.T) {
	p, f := newTestPool(t, 1)
	defer p.Close()

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Return(obj))
	require.Equal(t, 1, p.Stats().NumIdle, "object must be sitting IDLE in the idle store, not ALLOCATED")

	require.NoError(t, p.Invalidate(obj), "Invalidate has no ALLOCATED precondition and must destroy an idle instance too")
	require.Equal(t, int64(1), f.destroyed.Load())
	require.Equal(t, 0, p.Stats().NumIdle)

	// capacity must have been released
	obj2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, obj2)
}

func TestValidateFailureOnBorrowDestroysAndRetries(t *testing.T) {
	p, f := newTestPool(t, 2)
	defer p.Close()
	p.cfg.TestOnBorrow = true

	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Return(obj))

	bad := obj
	f.validateFn = func(o *int) bool { return o != bad }

	obj2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotSame(t, bad, obj2, "the failing-validation instance must be destroyed and replaced")
	require.Equal(t, int64(1), f.destroyed.Load())
}

func TestCloseDestroysIdleAndRejectsNewBorrows(t *testing.T) {
	p, f := newTestPool(t, 2)
	obj, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Return(obj))

	p.Close()
	require.Equal(t, int64(1), f.destroyed.Load())

	_, err = p.Borrow(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPreparePoolFillsMinIdle(t *testing.T) {
	f := &counterFactory{}
	cfg := DefaultConfig[int](f)
	cfg.MaxTotal = 5
	cfg.MinIdle = 3
	cfg.TimeBetweenEvictionRuns = 0
	p, err := NewPool(cfg)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.PreparePool(context.Background()))
	require.Equal(t, 3, p.Stats().NumIdle)
}
