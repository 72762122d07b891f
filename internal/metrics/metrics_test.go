package metrics

import (
	"encoding/json"
	"testing"
)

func TestCollector_Connections(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	if c.ActiveConnections() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveConnections())
	}
	if c.TotalConnections() != 2 {
		t.Errorf("total = %d, want 2", c.TotalConnections())
	}

	c.ConnectionClosed()
	if c.ActiveConnections() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveConnections())
	}
	if c.TotalConnections() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalConnections())
	}
}

func TestCollector_Bytes(t *testing.T) {
	c := New()

	c.BytesReceived(1024)
	c.BytesSent(512)
	c.BytesReceived(100)

	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
}

func TestCollector_Spectators(t *testing.T) {
	c := New()

	c.SpectatorAttached()
	c.SpectatorAttached()
	c.SpectatorDetached()
	c.Broadcast()
	c.Broadcast()
	c.Broadcast()

	if c.Spectators() != 1 {
		t.Errorf("spectators = %d, want 1", c.Spectators())
	}
	if c.Broadcasts() != 3 {
		t.Errorf("broadcasts = %d, want 3", c.Broadcasts())
	}
}

func TestCollector_Responses(t *testing.T) {
	c := New()

	c.StaleResponse()
	c.ResponseTimeout()
	c.ResponseTimeout()
	c.HandshakeFailed()

	if c.StaleResponses() != 1 {
		t.Errorf("stale = %d, want 1", c.StaleResponses())
	}
	if c.ResponseTimeouts() != 2 {
		t.Errorf("timeouts = %d, want 2", c.ResponseTimeouts())
	}
	if c.HandshakeFailures() != 1 {
		t.Errorf("handshake failures = %d, want 1", c.HandshakeFailures())
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if got := c.Snapshot().LastErrorMessage; got != "second error" {
		t.Errorf("last error = %q", got)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.ConnectionOpened()
	c.BytesSent(42)
	c.SpectatorAttached()

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.ConnectionsActive != 1 {
		t.Errorf("JSON active = %d", snap.ConnectionsActive)
	}
	if snap.BytesOut != 42 {
		t.Errorf("JSON bytes out = %d", snap.BytesOut)
	}
	if snap.Spectators != 1 {
		t.Errorf("JSON spectators = %d", snap.Spectators)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.BytesReceived(100)
	c.BytesSent(100)
	c.HandshakeFailed()
	c.SpectatorAttached()
	c.SpectatorDetached()
	c.Broadcast()
	c.StaleResponse()
	c.ResponseTimeout()
	c.RecordError("test")

	if c.ActiveConnections() != 0 || c.Spectators() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}
	if snap := c.Snapshot(); snap.ConnectionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
