package pool

import "context"

// DestroyMode distinguishes a normal destroy from one triggered by the
// abandoned-object sweeper, so a factory can e.g. skip the I/O close of a
// socket it already knows is dead.
type DestroyMode int

const (
	DestroyNormal DestroyMode = iota
	DestroyAbandoned
)

func (m DestroyMode) String() string {
	if m == DestroyAbandoned {
		return "ABANDONED"
	}
	return "NORMAL"
}

// Factory is the pool's sole extension point (§6). Create/Activate/
// Passivate/Validate/Destroy correspond exactly to the hooks in the
// external-interfaces table; "wrap" has no separate hook in this port since
// Create already returns the concrete *T the pool wraps.
//
// Implementations must be safe for concurrent use: the pool never holds its
// own locks while invoking a Factory method (§5 shared-resource policy), but
// multiple hooks may run concurrently for different wrappers.
type Factory[T any] interface {
	// Create manufactures a new instance. Called only after capacity has
	// been authorized. Any error aborts the borrow after capacity is
	// released; it is surfaced to the caller wrapped in ErrFactoryFailure.
	Create(ctx context.Context) (*T, error)

	// Activate prepares an idle instance for reuse, after it is taken from
	// the idle store and before it is handed to the borrower. An error
	// destroys the instance and the borrow loop retries.
	Activate(ctx context.Context, obj *T) error

	// Passivate resets a returning instance before it re-enters the idle
	// store. An error destroys the instance.
	Passivate(ctx context.Context, obj *T) error

	// Validate reports whether an instance is still fit for use. Called
	// depending on TestOnCreate/TestOnBorrow/TestOnReturn/TestWhileIdle.
	// A false return destroys the instance.
	Validate(ctx context.Context, obj *T) bool

	// Destroy releases an instance permanently. Errors are logged and
	// swallowed (§7): destroy must never be allowed to wedge the pool.
	Destroy(ctx context.Context, obj *T, mode DestroyMode) error
}

// BaseFactory supplies no-op Activate/Passivate/Destroy and an
// always-true Validate, mirroring the teacher's Fields[T] embedding
// convention: embed BaseFactory to avoid reimplementing hooks you don't
// need, and override only Create (and whichever others matter).
type BaseFactory[T any] struct{}

func (BaseFactory[T]) Activate(ctx context.Context, obj *T) error        { return nil }
func (BaseFactory[T]) Passivate(ctx context.Context, obj *T) error       { return nil }
func (BaseFactory[T]) Validate(ctx context.Context, obj *T) bool         { return true }
func (BaseFactory[T]) Destroy(ctx context.Context, obj *T, _ DestroyMode) error { return nil }

// FuncFactory adapts a bare create/destroy function pair into a Factory,
// for the common case where activate/passivate/validate are unnecessary —
// the functional-hooks style the teacher uses for Allocator/Cleaner.
type FuncFactory[T any] struct {
	BaseFactory[T]
	CreateFunc  func(ctx context.Context) (*T, error)
	DestroyFunc func(ctx context.Context, obj *T, mode DestroyMode) error
}

func (f *FuncFactory[T]) Create(ctx context.Context) (*T, error) { return f.CreateFunc(ctx) }

func (f *FuncFactory[T]) Destroy(ctx context.Context, obj *T, mode DestroyMode) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(ctx, obj, mode)
}

// KeyedFactory is the Factory contract parameterized by key (§4.9): a
// keyed pool's sub-pools each need Create to know which key it is
// manufacturing for, everything else is identical to Factory.
type KeyedFactory[K comparable, T any] interface {
	Create(ctx context.Context, key K) (*T, error)
	Activate(ctx context.Context, key K, obj *T) error
	Passivate(ctx context.Context, key K, obj *T) error
	Validate(ctx context.Context, key K, obj *T) bool
	Destroy(ctx context.Context, key K, obj *T, mode DestroyMode) error
}

// BaseKeyedFactory supplies no-op Activate/Passivate/Destroy and an
// always-true Validate, the keyed analogue of BaseFactory.
type BaseKeyedFactory[K comparable, T any] struct{}

func (BaseKeyedFactory[K, T]) Activate(ctx context.Context, key K, obj *T) error  { return nil }
func (BaseKeyedFactory[K, T]) Passivate(ctx context.Context, key K, obj *T) error { return nil }
func (BaseKeyedFactory[K, T]) Validate(ctx context.Context, key K, obj *T) bool   { return true }
func (BaseKeyedFactory[K, T]) Destroy(ctx context.Context, key K, obj *T, _ DestroyMode) error {
	return nil
}

// perKeyFactoryView adapts a KeyedFactory bound to one key into a plain
// Factory, so a sub-pool's internals can reuse the single-keyspace
// borrow/return machinery unchanged.
type perKeyFactoryView[K comparable, T any] struct {
	key K
	kf  KeyedFactory[K, T]
}

func (v perKeyFactoryView[K, T]) Create(ctx context.Context) (*T, error) {
	return v.kf.Create(ctx, v.key)
}
func (v perKeyFactoryView[K, T]) Activate(ctx context.Context, obj *T) error {
	return v.kf.Activate(ctx, v.key, obj)
}
func (v perKeyFactoryView[K, T]) Passivate(ctx context.Context, obj *T) error {
	return v.kf.Passivate(ctx, v.key, obj)
}
func (v perKeyFactoryView[K, T]) Validate(ctx context.Context, obj *T) bool {
	return v.kf.Validate(ctx, v.key, obj)
}
func (v perKeyFactoryView[K, T]) Destroy(ctx context.Context, obj *T, mode DestroyMode) error {
	return v.kf.Destroy(ctx, v.key, obj, mode)
}
