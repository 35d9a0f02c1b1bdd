package pool

import (
	"time"

	"github.com/rs/zerolog"
)

// Preset offers a small set of named maintenance profiles, the same
// shorthand the teacher exposes via GcLevel/DefaultCleanupPolicy: most
// callers want "sensible eviction cadence", not to reason about four
// interacting durations by hand.
type Preset string

const (
	// PresetOff disables the evictor, and with it the maintenance-time
	// abandoned-object sweep; on-borrow sweeping still follows
	// RemoveAbandonedOnBorrow. Objects stay idle indefinitely unless Clear
	// is called.
	PresetOff Preset = "off"

	// PresetConservative sweeps rarely and evicts only long-idle surplus.
	// Good for low-churn pools where creation is expensive.
	PresetConservative Preset = "conservative"

	// PresetBalanced is the default maintenance cadence.
	PresetBalanced Preset = "balanced"

	// PresetAggressive sweeps often and evicts idle instances quickly. Best
	// for memory-constrained environments with cheap object creation.
	PresetAggressive Preset = "aggressive"
)

// EvictionTiming is the subset of Config that DefaultEvictionTiming derives
// from a Preset.
type EvictionTiming struct {
	TimeBetweenEvictionRuns  time.Duration
	NumTestsPerEvictionRun   int
	MinEvictableIdleTime     time.Duration
	SoftMinEvictableIdleTime time.Duration
}

// DefaultEvictionTiming returns the timing fields for a named preset.
func DefaultEvictionTiming(p Preset) EvictionTiming {
	switch p {
	case PresetOff:
		return EvictionTiming{}
	case PresetConservative:
		return EvictionTiming{
			TimeBetweenEvictionRuns:  10 * time.Minute,
			NumTestsPerEvictionRun:   3,
			MinEvictableIdleTime:     30 * time.Minute,
			SoftMinEvictableIdleTime: -1,
		}
	case PresetAggressive:
		return EvictionTiming{
			TimeBetweenEvictionRuns:  30 * time.Second,
			NumTestsPerEvictionRun:   -2,
			MinEvictableIdleTime:     1 * time.Minute,
			SoftMinEvictableIdleTime: 10 * time.Second,
		}
	case PresetBalanced:
		fallthrough
	default:
		return EvictionTiming{
			TimeBetweenEvictionRuns:  1 * time.Minute,
			NumTestsPerEvictionRun:   -3,
			MinEvictableIdleTime:     5 * time.Minute,
			SoftMinEvictableIdleTime: 1 * time.Minute,
		}
	}
}

// Config holds the recognized options from §6, one struct per concern the
// way the teacher splits CleanupPolicy/GrowthPolicy out of the top-level
// Config — Capacity/Idle/Wait/Test/Eviction/Abandoned below compose into
// this single struct, but are documented and validated as separate groups.
type Config[T any] struct {
	// Capacity.
	MaxTotal int // < 0 = unbounded. Default 8.

	// Idle population.
	MaxIdle int // Default 8.
	MinIdle int // Default 0.

	// Borrow blocking behavior.
	MaxWait            time.Duration // < 0 = infinite.
	BlockWhenExhausted bool          // Default true.
	// Fair reserved for a future unfair-barging fast path; the waiter queue
	// is always strict FIFO handoff regardless of this setting today.
	Fair bool // Default false.
	LIFO bool // Default true.

	// Validation.
	TestOnCreate  bool
	TestOnBorrow  bool
	TestOnReturn  bool
	TestWhileIdle bool

	// Eviction (C5/C6).
	TimeBetweenEvictionRuns  time.Duration // <= 0 disables the evictor.
	NumTestsPerEvictionRun   int           // negative = share-of-idle.
	MinEvictableIdleTime     time.Duration
	SoftMinEvictableIdleTime time.Duration
	Policy                   EvictionPolicy // nil = DefaultEvictionPolicy()

	// Abandoned-object sweeping (C7).
	RemoveAbandonedOnBorrow      bool
	RemoveAbandonedOnMaintenance bool
	RemoveAbandonedTimeout       time.Duration
	LogAbandoned                 bool

	// Factory is required; ConfigError if nil.
	Factory Factory[T]

	// Logger receives destroy-failure and abandonment records. The zero
	// value (zerolog.Logger{}) behaves as a no-op writer; callers that want
	// output must set this explicitly, matching the teacher's
	// nothing-unless-asked logging posture generalized to a real logger.
	Logger zerolog.Logger
}

// DefaultConfig returns the §6 defaults for factory f: MaxTotal=8,
// MaxIdle=8, MinIdle=0, BlockWhenExhausted=true, Fair=false, LIFO=true,
// all Test* false, balanced eviction timing, abandoned sweeping disabled.
func DefaultConfig[T any](f Factory[T]) Config[T] {
	timing := DefaultEvictionTiming(PresetBalanced)
	return Config[T]{
		MaxTotal:                 8,
		MaxIdle:                  8,
		MinIdle:                  0,
		MaxWait:                  -1,
		BlockWhenExhausted:       true,
		Fair:                     false,
		LIFO:                     true,
		TimeBetweenEvictionRuns:  timing.TimeBetweenEvictionRuns,
		NumTestsPerEvictionRun:   timing.NumTestsPerEvictionRun,
		MinEvictableIdleTime:     timing.MinEvictableIdleTime,
		SoftMinEvictableIdleTime: timing.SoftMinEvictableIdleTime,
		Factory:                  f,
	}
}

func (c *Config[T]) validate() error {
	if c.Factory == nil {
		return newConfigError("factory is required")
	}
	if c.MaxIdle < 0 {
		return newConfigError("MaxIdle must be >= 0")
	}
	if c.MinIdle < 0 {
		return newConfigError("MinIdle must be >= 0")
	}
	if c.MaxTotal >= 0 && c.MinIdle > c.MaxTotal {
		return newConfigError("MinIdle must not exceed MaxTotal")
	}
	if c.RemoveAbandonedOnBorrow || c.RemoveAbandonedOnMaintenance {
		if c.RemoveAbandonedTimeout <= 0 {
			return newConfigError("RemoveAbandonedTimeout must be positive when abandoned sweeping is enabled")
		}
	}
	return nil
}

func (c *Config[T]) policy() EvictionPolicy {
	if c.Policy != nil {
		return c.Policy
	}
	return DefaultEvictionPolicy()
}

func (c *Config[T]) evictionConfig() EvictionConfig {
	return EvictionConfig{
		MinEvictableIdleTime:     c.MinEvictableIdleTime,
		SoftMinEvictableIdleTime: c.SoftMinEvictableIdleTime,
		MinIdle:                  c.MinIdle,
	}
}

// KeyedConfig extends Config with the per-key bounds a KeyedObjectPool
// needs in addition to the shared global MaxTotal (§4.9).
type KeyedConfig[K comparable, T any] struct {
	Config[T]

	// MaxTotalPerKey bounds the live instance count for any single key.
	// < 0 = unbounded. Default 8.
	MaxTotalPerKey int

	// MaxIdlePerKey / MinIdlePerKey override MaxIdle/MinIdle per key when
	// > 0; otherwise Config.MaxIdle/MinIdle apply uniformly.
	MaxIdlePerKey int
	MinIdlePerKey int

	// KeyedFactory is required instead of Config.Factory for keyed pools,
	// since creation needs to know which key it is creating for.
	KeyedFactory KeyedFactory[K, T]
}

// DefaultKeyedConfig returns the §6 defaults for a keyed pool.
func DefaultKeyedConfig[K comparable, T any](f KeyedFactory[K, T]) KeyedConfig[K, T] {
	base := DefaultConfig[T](nil)
	return KeyedConfig[K, T]{
		Config:         base,
		MaxTotalPerKey: 8,
		KeyedFactory:   f,
	}
}

func (c *KeyedConfig[K, T]) validate() error {
	if c.KeyedFactory == nil {
		return newConfigError("keyed factory is required")
	}
	if c.MaxTotalPerKey >= 0 && c.MaxTotal >= 0 && c.MaxTotalPerKey > c.MaxTotal {
		return newConfigError("MaxTotalPerKey must not exceed MaxTotal")
	}
	if c.MaxIdle < 0 || c.MinIdle < 0 || c.MaxIdlePerKey < 0 || c.MinIdlePerKey < 0 {
		return newConfigError("idle bounds must be >= 0")
	}
	if c.RemoveAbandonedOnBorrow || c.RemoveAbandonedOnMaintenance {
		if c.RemoveAbandonedTimeout <= 0 {
			return newConfigError("RemoveAbandonedTimeout must be positive when abandoned sweeping is enabled")
		}
	}
	return nil
}

// maxIdleForKey / minIdleForKey resolve the per-key override, falling back
// to the pool-wide default when unset (0).
func (c *KeyedConfig[K, T]) maxIdleForKey() int {
	if c.MaxIdlePerKey > 0 {
		return c.MaxIdlePerKey
	}
	return c.MaxIdle
}

func (c *KeyedConfig[K, T]) minIdleForKey() int {
	if c.MinIdlePerKey > 0 {
		return c.MinIdlePerKey
	}
	return c.MinIdle
}
