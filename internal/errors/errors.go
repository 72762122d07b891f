// Package errors provides domain-specific error types for castd.
//
// The types carry structured context (operation, address, user-facing
// reason) so session code can decide whether a failure ends silently,
// ends with a disconnect frame, or is merely logged.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrQueueFull         = errors.New("outbound queue is full")
	ErrKeyInstalled      = errors.New("encryption key already installed")
	ErrVersionRejected   = errors.New("client version rejected")
	ErrDecryptFailed     = errors.New("asymmetric decrypt failed")
	ErrChallengeMismatch = errors.New("challenge mismatch")
	ErrOverrun           = errors.New("message overrun")
	ErrChecksum          = errors.New("frame checksum mismatch")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrHubFull           = errors.New("live cast is full")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrTimeout           = errors.New("operation timed out")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a socket operation.
type NetworkError struct {
	Op        string // "accept", "read", "write", "dial"
	Addr      string // remote address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a validation failure that ends a game session.  When
// Reason is non-empty it is shown to the client in a disconnect frame.
type ProtocolError struct {
	Op     string // "handshake", "login", "parse"
	Reason string // user-facing text, may be empty
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, detecting retryability from err.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// Protocol creates a ProtocolError with a user-facing reason.
func Protocol(op, reason string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Reason: reason, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsTemporary reports whether err represents a temporary condition,
// such as EMFILE on accept.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// Reason extracts the user-facing reason from a ProtocolError chain.
func Reason(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful on accept
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
