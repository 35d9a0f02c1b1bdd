package pool

import "time"

// EvictionConfig is the slice of Config consulted by an EvictionPolicy; kept
// separate from the full Config so custom policies (plugged in "by
// identity", §4.5) don't need the generic type parameter.
type EvictionConfig struct {
	MinEvictableIdleTime     time.Duration
	SoftMinEvictableIdleTime time.Duration
	MinIdle                  int
}

// EvictionPolicy is a pure predicate over (idle-time, idle-count, config)
// (C5, §4.5). It must not mutate pool state or block.
type EvictionPolicy interface {
	Evict(cfg EvictionConfig, idleDuration time.Duration, idleCount int) bool
}

// defaultEvictionPolicy implements the default rule from §4.5: evict when
// idle longer than MinEvictableIdleTime, or when there is idle surplus
// beyond MinIdle and the instance is idle longer than
// SoftMinEvictableIdleTime. Either threshold is disabled by a negative
// duration.
type defaultEvictionPolicy struct{}

// DefaultEvictionPolicy returns the eviction policy used when Config.Policy
// is left nil.
func DefaultEvictionPolicy() EvictionPolicy { return defaultEvictionPolicy{} }

func (defaultEvictionPolicy) Evict(cfg EvictionConfig, idleDuration time.Duration, idleCount int) bool {
	if cfg.MinEvictableIdleTime >= 0 && idleDuration > cfg.MinEvictableIdleTime {
		return true
	}
	if cfg.SoftMinEvictableIdleTime >= 0 && idleCount > cfg.MinIdle && idleDuration > cfg.SoftMinEvictableIdleTime {
		return true
	}
	return false
}

// EvictionPolicyFunc adapts a bare function to EvictionPolicy.
type EvictionPolicyFunc func(cfg EvictionConfig, idleDuration time.Duration, idleCount int) bool

func (f EvictionPolicyFunc) Evict(cfg EvictionConfig, idleDuration time.Duration, idleCount int) bool {
	return f(cfg, idleDuration, idleCount)
}
