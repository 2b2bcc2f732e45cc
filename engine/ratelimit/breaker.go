package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	circuitClosed = iota
	circuitOpen
	circuitHalfOpen
)

// Config tunes CircuitBreaker behavior.
type Config struct {
	// Shards must be a power of two; defaults to 16.
	Shards int
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Defaults to 3.
	FailureThreshold int
	// OpenDuration is how long the circuit stays open before allowing a
	// half-open probe. Defaults to 5s.
	OpenDuration time.Duration
	// HalfOpenSuccesses is the number of consecutive successes required in
	// half-open state to close the circuit again. Defaults to 2.
	HalfOpenSuccesses int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Shards <= 0 || (out.Shards&(out.Shards-1)) != 0 {
		out.Shards = 16
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 3
	}
	if out.OpenDuration <= 0 {
		out.OpenDuration = 5 * time.Second
	}
	if out.HalfOpenSuccesses <= 0 {
		out.HalfOpenSuccesses = 2
	}
	return out
}

// KeyState is one key's observable breaker state.
type KeyState struct {
	Key          string
	State        string // "closed", "open", "half_open"
	Failures     int
	LastActivity time.Time
}

type breakerState struct {
	mu           sync.Mutex
	state        int
	failures     int
	successes    int
	nextAttempt  time.Time
	lastActivity time.Time
}

type shard struct {
	mu   sync.RWMutex
	keys map[string]*breakerState
}

// CircuitBreaker tracks per-key consecutive-failure state, sharded by an
// fnv hash of the key to bound lock contention (grounded on the teacher's
// AdaptiveRateLimiter domain sharding).
type CircuitBreaker struct {
	cfg    Config
	clock  Clock
	shards []*shard
	mask   uint64
}

// New constructs a CircuitBreaker with cfg (zero-valued fields take their
// default).
func New(cfg Config) *CircuitBreaker {
	cfg = cfg.withDefaults()
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{keys: make(map[string]*breakerState)}
	}
	return &CircuitBreaker{cfg: cfg, clock: realClock{}, shards: shards, mask: uint64(cfg.Shards - 1)}
}

// WithClock overrides the clock, for deterministic tests.
func (b *CircuitBreaker) WithClock(c Clock) *CircuitBreaker {
	if c != nil {
		b.clock = c
	}
	return b
}

func (b *CircuitBreaker) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[uint64(h.Sum32())&b.mask]
}

func (b *CircuitBreaker) stateFor(key string) *breakerState {
	sh := b.shardFor(key)
	sh.mu.RLock()
	st := sh.keys[key]
	sh.mu.RUnlock()
	if st != nil {
		return st
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if st = sh.keys[key]; st == nil {
		st = &breakerState{lastActivity: b.clock.Now()}
		sh.keys[key] = st
	}
	return st
}

// Allow reports whether key's circuit currently permits an attempt. An
// open circuit refuses attempts until OpenDuration has elapsed, then turns
// half-open; a half-open circuit admits every attempt until
// RecordSuccess/RecordFailure settles it.
func (b *CircuitBreaker) Allow(key string) bool {
	st := b.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	now := b.clock.Now()
	st.lastActivity = now
	if st.state == circuitOpen {
		if now.Before(st.nextAttempt) {
			return false
		}
		st.state = circuitHalfOpen
		st.successes = 0
	}
	return true
}

// RecordSuccess registers a success for key, closing the circuit from
// half-open once HalfOpenSuccesses consecutive successes land.
func (b *CircuitBreaker) RecordSuccess(key string) {
	st := b.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastActivity = b.clock.Now()
	st.failures = 0
	switch st.state {
	case circuitHalfOpen:
		st.successes++
		if st.successes >= b.cfg.HalfOpenSuccesses {
			st.state = circuitClosed
			st.successes = 0
		}
	case circuitOpen:
		// a success while open shouldn't happen under Allow's gating, but
		// treat it the same as a half-open success for safety.
		st.state = circuitClosed
	}
}

// RecordFailure registers a failure for key, opening the circuit once
// FailureThreshold consecutive failures accumulate (or immediately, from
// half-open).
func (b *CircuitBreaker) RecordFailure(key string) {
	st := b.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	now := b.clock.Now()
	st.lastActivity = now
	st.failures++
	st.successes = 0
	if st.state == circuitHalfOpen || st.failures >= b.cfg.FailureThreshold {
		st.state = circuitOpen
		st.nextAttempt = now.Add(b.cfg.OpenDuration)
	}
}

// Snapshot returns the KeyState for key, even if it has never been
// observed (state "closed", zero failures).
func (b *CircuitBreaker) Snapshot(key string) KeyState {
	st := b.stateFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return KeyState{Key: key, State: stateName(st.state), Failures: st.failures, LastActivity: st.lastActivity}
}

func stateName(s int) string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
