package pool

import "errors"

// Error kinds returned by pool operations. All are sentinel values so callers
// use errors.Is rather than string matching, the same pattern the teacher
// uses for ErrNoAllocator/ErrNoCleaner.
var (
	// ErrExhausted is returned by a non-blocking borrow when no capacity and
	// no idle instance are available.
	ErrExhausted = errors.New("pool: exhausted")

	// ErrTimeout is returned when a blocking borrow exceeds its deadline.
	ErrTimeout = errors.New("pool: borrow timed out")

	// ErrInterrupted is returned when a blocked caller's context is canceled.
	ErrInterrupted = errors.New("pool: interrupted")

	// ErrPoolClosed is returned by Borrow (and AddObject/PreparePool) once
	// the pool is closed, and to borrowers still waiting when Close is
	// called. Return after Close succeeds and destroys the instance.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrFactoryFailure wraps an error raised by a factory callback. Use
	// errors.Unwrap (or errors.Is/As against the wrapped cause) to inspect it.
	ErrFactoryFailure = errors.New("pool: factory failure")

	// ErrIllegalReturn is returned by Return for an object that is not
	// currently on loan from this pool, and by Invalidate for an object the
	// pool does not track (or has already invalidated).
	ErrIllegalReturn = errors.New("pool: illegal return")

	// ErrConfigError is returned by the constructors for invalid configuration.
	ErrConfigError = errors.New("pool: invalid configuration")
)

// factoryFailure wraps cause with ErrFactoryFailure so both errors.Is(err,
// ErrFactoryFailure) and errors.Is(err, cause) hold.
type factoryFailure struct {
	cause error
}

func (e *factoryFailure) Error() string {
	return "pool: factory failure: " + e.cause.Error()
}

func (e *factoryFailure) Unwrap() error {
	return e.cause
}

func (e *factoryFailure) Is(target error) bool {
	return target == ErrFactoryFailure
}

func wrapFactoryErr(cause error) error {
	if cause == nil {
		return nil
	}
	return &factoryFailure{cause: cause}
}

// configError wraps a description with ErrConfigError.
type configError struct {
	msg string
}

func (e *configError) Error() string {
	return "pool: invalid configuration: " + e.msg
}

func (e *configError) Is(target error) bool {
	return target == ErrConfigError
}

func newConfigError(msg string) error {
	return &configError{msg: msg}
}
