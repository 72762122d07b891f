package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultGameAddr is where players log in.
	DefaultGameAddr = ":7172"

	// DefaultCastAddr is where spectators attach to live casts.
	DefaultCastAddr = ":7173"

	// DefaultAPIAddr serves the status API.  It binds to loopback
	// unless told otherwise.
	DefaultAPIAddr = "127.0.0.1:8080"

	// DefaultMinVersion and DefaultMaxVersion bound the accepted client
	// protocol versions (10.97 and 10.98).
	DefaultMinVersion = 1097
	DefaultMaxVersion = 1098

	// DefaultReadTimeout bounds an API request read and the handshake.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds a single write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultResponseTimeout is how long an API handler may take before
	// the client gets a 500.
	DefaultResponseTimeout = 5 * time.Second

	// DefaultIdleTimeout closes game connections that stop talking.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultMaxSpectators bounds the audience of one cast.
	DefaultMaxSpectators = 50

	// DefaultQueueSize is the outbound frame capacity of a session.
	DefaultQueueSize = 256

	// DefaultRate and DefaultBurst limit inbound frames per session.
	DefaultRate  = 50
	DefaultBurst = 100

	// DefaultLoginFailures is how many consecutive failed logins from
	// one address are tolerated before it is refused.
	DefaultLoginFailures = 5

	// DefaultLoginReset is how long a refused address waits.
	DefaultLoginReset = 5 * time.Minute
)
