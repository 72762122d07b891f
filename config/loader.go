package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every supported variable name.
const EnvPrefix = "CASTD_"

// ── Environment variable mapping ─────────────────────────────────────
//
// Boolean values accept "1", "true", "yes" (case-insensitive).
// Timeouts are whole seconds or a Go duration ("90s", "5m").  Unset
// variables leave the field nil so the existing value survives.

type environment struct {
	// Listeners
	GameAddr *string `env:"GAME_ADDR"`
	CastAddr *string `env:"CAST_ADDR"`
	APIAddr  *string `env:"API_ADDR"`

	// Protocol
	RSAKey     *string `env:"RSA_KEY"`
	MinVersion *int    `env:"MIN_VERSION"`
	MaxVersion *int    `env:"MAX_VERSION"`

	// Timeouts
	ReadTimeout     *seconds `env:"READ_TIMEOUT"`
	WriteTimeout    *seconds `env:"WRITE_TIMEOUT"`
	ResponseTimeout *seconds `env:"RESPONSE_TIMEOUT"`
	IdleTimeout     *seconds `env:"IDLE_TIMEOUT"`
	LoginReset      *seconds `env:"LOGIN_RESET"`

	// Limits
	MaxSpectators *int     `env:"MAX_SPECTATORS"`
	QueueSize     *int     `env:"QUEUE_SIZE"`
	Rate          *float64 `env:"RATE"`
	Burst         *int     `env:"BURST"`
	LoginFailures *int     `env:"LOGIN_FAILURES"`

	// World
	Accounts    string `env:"ACCOUNTS"`
	Spawns      string `env:"SPAWNS"`
	CastOnLogin *truthy `env:"CAST_ON_LOGIN"`

	// Output
	Verbose *int `env:"VERBOSE"`
}

// LoadFromEnv overlays CASTD_ environment variables onto cfg.  Only
// variables that are set override the existing value.  This should be
// called BEFORE CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) error {
	var e environment
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.GameAddr, e.GameAddr)
	setString(&cfg.CastAddr, e.CastAddr)
	setString(&cfg.APIAddr, e.APIAddr)

	setString(&cfg.RSAKeyPath, e.RSAKey)
	setInt(&cfg.MinVersion, e.MinVersion)
	setInt(&cfg.MaxVersion, e.MaxVersion)

	setDuration(&cfg.ReadTimeout, e.ReadTimeout)
	setDuration(&cfg.WriteTimeout, e.WriteTimeout)
	setDuration(&cfg.ResponseTimeout, e.ResponseTimeout)
	setDuration(&cfg.IdleTimeout, e.IdleTimeout)
	setDuration(&cfg.LoginReset, e.LoginReset)

	setInt(&cfg.MaxSpectators, e.MaxSpectators)
	setInt(&cfg.QueueSize, e.QueueSize)
	if e.Rate != nil {
		cfg.Rate = *e.Rate
	}
	setInt(&cfg.Burst, e.Burst)
	setInt(&cfg.LoginFailures, e.LoginFailures)

	for _, spec := range splitList(e.Accounts) {
		a, err := ParseAccountSpec(spec)
		if err != nil {
			return fmt.Errorf("%sACCOUNTS: %w", EnvPrefix, err)
		}
		cfg.Accounts = append(cfg.Accounts, a)
	}
	for _, spec := range splitList(e.Spawns) {
		s, err := ParseSpawnSpec(spec)
		if err != nil {
			return fmt.Errorf("%sSPAWNS: %w", EnvPrefix, err)
		}
		cfg.Spawns = append(cfg.Spawns, s)
	}
	if e.CastOnLogin != nil {
		cfg.CastOnLogin = bool(*e.CastOnLogin)
	}

	setInt(&cfg.Verbose, e.Verbose)
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

// seconds is a timeout given as whole seconds or as a Go duration.
type seconds time.Duration

func (s *seconds) UnmarshalText(text []byte) error {
	v := strings.TrimSpace(string(text))
	if n, err := strconv.Atoi(v); err == nil {
		*s = seconds(time.Duration(n) * time.Second)
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q", v)
	}
	*s = seconds(d)
	return nil
}

// truthy accepts the spellings operators use for "on".
type truthy bool

func (b *truthy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "1", "true", "yes", "on":
		*b = true
	case "", "0", "false", "no", "off":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %q", text)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *seconds) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}

// splitList splits a list variable.  Entries are comma-separated, or
// ';'-separated once any entry carries a position, since positions
// contain commas.
func splitList(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	sep := ","
	if strings.Contains(v, ";") || strings.Contains(v, "@") {
		sep = ";"
	}
	var out []string
	for _, item := range strings.Split(v, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
