// Package config defines the runtime configuration for castd and
// provides helpers for parsing account and spawn specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"castd/internal/errors"
	"castd/internal/protocol"
)

// Config holds every tuneable of a castd process.
type Config struct {
	// ── Listeners ────────────────────────────────────────────────────
	GameAddr string
	CastAddr string
	APIAddr  string // empty disables the API

	// ── Protocol ─────────────────────────────────────────────────────
	RSAKeyPath string // empty → ephemeral key
	MinVersion int
	MaxVersion int

	// ── Timeouts ─────────────────────────────────────────────────────
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ResponseTimeout time.Duration
	IdleTimeout     time.Duration

	// ── Limits ───────────────────────────────────────────────────────
	MaxSpectators int
	QueueSize     int
	Rate          float64 // inbound frames per second, 0 → unlimited
	Burst         int
	LoginFailures int
	LoginReset    time.Duration

	// ── World ────────────────────────────────────────────────────────
	Accounts    []Account
	Spawns      []Spawn
	CastOnLogin bool

	// ── Viewer ───────────────────────────────────────────────────────
	Watch         string // caster name; non-empty selects viewer mode
	WatchPassword string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		GameAddr:        DefaultGameAddr,
		CastAddr:        DefaultCastAddr,
		APIAddr:         DefaultAPIAddr,
		MinVersion:      DefaultMinVersion,
		MaxVersion:      DefaultMaxVersion,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		MaxSpectators:   DefaultMaxSpectators,
		QueueSize:       DefaultQueueSize,
		Rate:            DefaultRate,
		Burst:           DefaultBurst,
		LoginFailures:   DefaultLoginFailures,
		LoginReset:      DefaultLoginReset,
	}
}

// ── Account helpers ──────────────────────────────────────────────────

// Account is a character that may log in on the game port.
type Account struct {
	Name     string
	Password string
	Spawn    protocol.Position
}

// DefaultSpawn is where characters appear unless an account names a tile.
var DefaultSpawn = protocol.Position{X: 100, Y: 100, Z: 7}

// accountRe matches name:password[@x,y,z].
var accountRe = regexp.MustCompile(`^([^:@]+):([^@]*)(?:@(.+))?$`)

// ParseAccountSpec parses "name:password" or "name:password@x,y,z".
func ParseAccountSpec(spec string) (Account, error) {
	m := accountRe.FindStringSubmatch(spec)
	if m == nil {
		return Account{}, fmt.Errorf("invalid account %q – expected name:password[@x,y,z]", spec)
	}
	a := Account{Name: strings.TrimSpace(m[1]), Password: m[2], Spawn: DefaultSpawn}
	if a.Name == "" {
		return Account{}, fmt.Errorf("account name is required")
	}
	if m[3] != "" {
		pos, err := ParsePosition(m[3])
		if err != nil {
			return Account{}, fmt.Errorf("account %s: %w", a.Name, err)
		}
		a.Spawn = pos
	}
	return a, nil
}

// ── Spawn helpers ────────────────────────────────────────────────────

// Spawn is a monster placed on the map at startup.
type Spawn struct {
	Name     string
	Position protocol.Position
}

// ParseSpawnSpec parses "Rat@x,y,z".
func ParseSpawnSpec(spec string) (Spawn, error) {
	name, at, ok := strings.Cut(spec, "@")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Spawn{}, fmt.Errorf("invalid spawn %q – expected name@x,y,z", spec)
	}
	pos, err := ParsePosition(at)
	if err != nil {
		return Spawn{}, fmt.Errorf("spawn %s: %w", name, err)
	}
	return Spawn{Name: name, Position: pos}, nil
}

// ParsePosition parses "x,y,z" with x and y in 0-65535 and z in 0-15.
func ParsePosition(spec string) (protocol.Position, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		return protocol.Position{}, fmt.Errorf("invalid position %q – expected x,y,z", spec)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return protocol.Position{}, fmt.Errorf("invalid coordinate %q", p)
		}
		v[i] = n
	}
	if v[0] < 0 || v[0] > 65535 || v[1] < 0 || v[1] > 65535 {
		return protocol.Position{}, fmt.Errorf("position %d,%d out of range 0-65535", v[0], v[1])
	}
	if v[2] < 0 || v[2] > 15 {
		return protocol.Position{}, fmt.Errorf("floor %d out of range 0-15", v[2])
	}
	return protocol.Position{X: uint16(v[0]), Y: uint16(v[1]), Z: uint8(v[2])}, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Watch != "" {
		if c.CastAddr == "" {
			return &errors.ConfigError{Field: "cast-addr", Message: "viewer mode needs the cast address to dial"}
		}
		if c.RSAKeyPath == "" {
			return &errors.ConfigError{
				Field:   "rsa-key",
				Message: "viewer mode needs the server's key",
				Hint:    "pass the same --rsa-key the server runs with",
			}
		}
		return nil
	}

	if c.GameAddr == "" {
		return &errors.ConfigError{Field: "game-addr", Message: "a game listen address is required"}
	}
	if c.CastAddr == "" {
		return &errors.ConfigError{Field: "cast-addr", Message: "a cast listen address is required"}
	}
	if c.GameAddr == c.CastAddr {
		return &errors.ConfigError{
			Field:   "cast-addr",
			Value:   c.CastAddr,
			Message: "must differ from --game-addr",
			Hint:    "each port serves one protocol",
		}
	}

	if c.MinVersion < 1 || c.MinVersion > 65535 {
		return &errors.ConfigError{Field: "min-version", Value: c.MinVersion, Message: "out of range 1-65535"}
	}
	if c.MaxVersion < c.MinVersion || c.MaxVersion > 65535 {
		return &errors.ConfigError{
			Field:   "max-version",
			Value:   c.MaxVersion,
			Message: fmt.Sprintf("must be between --min-version (%d) and 65535", c.MinVersion),
		}
	}

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"read-timeout", c.ReadTimeout},
		{"write-timeout", c.WriteTimeout},
		{"response-timeout", c.ResponseTimeout},
		{"idle-timeout", c.IdleTimeout},
		{"login-reset", c.LoginReset},
	} {
		if d.value <= 0 {
			return &errors.ConfigError{Field: d.field, Value: d.value, Message: "must be positive"}
		}
	}

	if c.MaxSpectators < 1 {
		return &errors.ConfigError{Field: "max-spectators", Value: c.MaxSpectators, Message: "must be at least 1"}
	}
	if c.QueueSize < 1 {
		return &errors.ConfigError{
			Field:   "queue-size",
			Value:   c.QueueSize,
			Message: "must be at least 1",
			Hint:    "a spectator's initial view alone needs a few dozen frames",
		}
	}
	if c.Rate < 0 {
		return &errors.ConfigError{Field: "rate", Value: c.Rate, Message: "must not be negative", Hint: "use 0 to disable the limit"}
	}
	if c.Rate > 0 && c.Burst < 1 {
		return &errors.ConfigError{Field: "burst", Value: c.Burst, Message: "must be at least 1 when --rate is set"}
	}
	if c.LoginFailures < 1 {
		return &errors.ConfigError{Field: "login-failures", Value: c.LoginFailures, Message: "must be at least 1"}
	}

	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		key := strings.ToLower(a.Name)
		if seen[key] {
			return &errors.ConfigError{Field: "account", Value: a.Name, Message: "defined twice"}
		}
		seen[key] = true
	}
	return nil
}
