package retry

import (
	"fmt"
	"sync"
	"time"
)

// ── Breaker state ────────────────────────────────────────────────────

// State represents a breaker's operational state.
type State int

const (
	// StateClosed is normal operation; attempts pass through.
	StateClosed State = iota
	// StateOpen means the key failed too often and attempts are rejected.
	StateOpen
	// StateHalfOpen allows one probe after the reset timeout.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ── Configuration ────────────────────────────────────────────────────

// BreakerConfig configures a [BreakerSet].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before a key's
	// breaker opens (default 5).
	MaxFailures int
	// ResetTimeout is how long a breaker stays open before allowing a
	// probe (default 30s).
	ResetTimeout time.Duration
	// OnStateChange is called whenever a key transitions.  It runs
	// under the lock, so keep it fast.
	OnStateChange func(key string, from, to State)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

// ── BreakerSet ───────────────────────────────────────────────────────

type breaker struct {
	state       State
	failures    int
	lastFailure time.Time
}

// BreakerSet tracks consecutive failures per key (typically a remote
// address) and rejects further attempts from a key that crossed the
// threshold until its reset timeout elapses.  One failed probe in the
// half-open state reopens the breaker; one success closes it.
type BreakerSet struct {
	mu            sync.Mutex
	keys          map[string]*breaker
	maxFailures   int
	resetTimeout  time.Duration
	onStateChange func(key string, from, to State)
	now           func() time.Time
}

// NewBreakerSet creates a keyed breaker with the given config.
func NewBreakerSet(cfg *BreakerConfig) *BreakerSet {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	maxF := cfg.MaxFailures
	if maxF <= 0 {
		maxF = 5
	}
	rt := cfg.ResetTimeout
	if rt <= 0 {
		rt = 30 * time.Second
	}
	return &BreakerSet{
		keys:          make(map[string]*breaker),
		maxFailures:   maxF,
		resetTimeout:  rt,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// Allow returns an error when key's breaker is open.
func (bs *BreakerSet) Allow(key string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	b, ok := bs.keys[key]
	if !ok || b.state != StateOpen {
		return nil
	}
	since := bs.now().Sub(b.lastFailure)
	if since > bs.resetTimeout {
		bs.transition(key, b, StateHalfOpen)
		return nil
	}
	return fmt.Errorf("breaker open for %s: %d consecutive failures, retry in %v",
		key, b.failures, (bs.resetTimeout - since).Truncate(time.Second))
}

// Failure records a failed attempt for key.
func (bs *BreakerSet) Failure(key string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	b, ok := bs.keys[key]
	if !ok {
		b = &breaker{}
		bs.keys[key] = b
	}
	b.failures++
	b.lastFailure = bs.now()
	if b.state == StateHalfOpen || b.failures >= bs.maxFailures {
		bs.transition(key, b, StateOpen)
	}
}

// Success forgets key's failure history.
func (bs *BreakerSet) Success(key string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if b, ok := bs.keys[key]; ok {
		bs.transition(key, b, StateClosed)
		delete(bs.keys, key)
	}
}

// State returns key's current state.
func (bs *BreakerSet) State(key string) State {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.keys[key]; ok {
		return b.state
	}
	return StateClosed
}

// Prune drops keys whose last failure is older than the reset timeout,
// bounding memory under address churn.
func (bs *BreakerSet) Prune() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	n := 0
	cutoff := bs.now().Add(-bs.resetTimeout)
	for key, b := range bs.keys {
		if b.lastFailure.Before(cutoff) {
			delete(bs.keys, key)
			n++
		}
	}
	return n
}

func (bs *BreakerSet) transition(key string, b *breaker, to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if bs.onStateChange != nil {
		bs.onStateChange(key, from, to)
	}
}
