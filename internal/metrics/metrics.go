// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a castd server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a castd server.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	handshakeFailures atomic.Int64
	spectators        atomic.Int64
	broadcasts        atomic.Int64
	staleResponses    atomic.Int64
	responseTimeouts  atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Protocol metrics ─────────────────────────────────────────────────

// HandshakeFailed records a rejected handshake.
func (c *Collector) HandshakeFailed() {
	if c == nil {
		return
	}
	c.handshakeFailures.Add(1)
}

// HandshakeFailures returns the number of rejected handshakes.
func (c *Collector) HandshakeFailures() int64 {
	if c == nil {
		return 0
	}
	return c.handshakeFailures.Load()
}

// SpectatorAttached increments the attached-spectator gauge.
func (c *Collector) SpectatorAttached() {
	if c == nil {
		return
	}
	c.spectators.Add(1)
}

// SpectatorDetached decrements the attached-spectator gauge.
func (c *Collector) SpectatorDetached() {
	if c == nil {
		return
	}
	c.spectators.Add(-1)
}

// Spectators returns the number of currently attached spectators.
func (c *Collector) Spectators() int64 {
	if c == nil {
		return 0
	}
	return c.spectators.Load()
}

// Broadcast records one fan-out of a caster event.
func (c *Collector) Broadcast() {
	if c == nil {
		return
	}
	c.broadcasts.Add(1)
}

// Broadcasts returns the number of fan-outs performed.
func (c *Collector) Broadcasts() int64 {
	if c == nil {
		return 0
	}
	return c.broadcasts.Load()
}

// StaleResponse records a response dropped because its request
// counter no longer matched the peer.
func (c *Collector) StaleResponse() {
	if c == nil {
		return
	}
	c.staleResponses.Add(1)
}

// StaleResponses returns the number of dropped stale responses.
func (c *Collector) StaleResponses() int64 {
	if c == nil {
		return 0
	}
	return c.staleResponses.Load()
}

// ResponseTimeout records a handler that missed its deadline.
func (c *Collector) ResponseTimeout() {
	if c == nil {
		return
	}
	c.responseTimeouts.Add(1)
}

// ResponseTimeouts returns the number of synthesized error responses.
func (c *Collector) ResponseTimeouts() int64 {
	if c == nil {
		return 0
	}
	return c.responseTimeouts.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	HandshakeFailures int64  `json:"handshake_failures"`
	Spectators        int64  `json:"spectators"`
	Broadcasts        int64  `json:"broadcasts"`
	StaleResponses    int64  `json:"stale_responses"`
	ResponseTimeouts  int64  `json:"response_timeouts"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		HandshakeFailures: c.handshakeFailures.Load(),
		Spectators:        c.spectators.Load(),
		Broadcasts:        c.broadcasts.Load(),
		StaleResponses:    c.staleResponses.Load(),
		ResponseTimeouts:  c.responseTimeouts.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
