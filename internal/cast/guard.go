package cast

import (
	"time"

	"castd/internal/retry"
	"castd/util"
)

// Guard throttles login attempts per remote host.  After too many
// consecutive failures a host is refused until its breaker resets.  A
// nil Guard allows everything.
type Guard struct {
	breakers *retry.BreakerSet
}

// NewGuard refuses a host after maxFailures consecutive failures for
// the reset period.
func NewGuard(maxFailures int, reset time.Duration, logger *util.Logger) *Guard {
	return &Guard{breakers: retry.NewBreakerSet(&retry.BreakerConfig{
		MaxFailures:  maxFailures,
		ResetTimeout: reset,
		OnStateChange: func(host string, from, to retry.State) {
			logger.Verbose("login guard %s: %s -> %s", host, from, to)
		},
	})}
}

// Allow returns an error when host is currently refused.
func (g *Guard) Allow(host string) error {
	if g == nil {
		return nil
	}
	return g.breakers.Allow(host)
}

// Failure records a failed login from host.
func (g *Guard) Failure(host string) {
	if g != nil {
		g.breakers.Failure(host)
	}
}

// Success clears host's failure history.
func (g *Guard) Success(host string) {
	if g != nil {
		g.breakers.Success(host)
	}
}

// Prune forgets hosts whose failures have aged out.
func (g *Guard) Prune() int {
	if g == nil {
		return 0
	}
	return g.breakers.Prune()
}
