// Package connection implements a keep-alive request/response peer with
// phase-scoped timeouts.  Each request is stamped with the peer's
// response counter; a response is written only while that counter is
// still current, so a handler that finishes after its request timed out
// can never answer a later request.
package connection

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"castd/internal/dispatcher"
	"castd/internal/metrics"
	"castd/util"
)

// Codec reads requests and writes responses for one wire protocol.
type Codec[Req, Resp any] interface {
	ReadRequest(r *bufio.Reader) (Req, error)
	// KeepAlive reports whether the client asked to reuse the connection.
	KeepAlive(req Req) bool
	// WriteResponse writes resp, marking it as the last response when
	// keepAlive is false.
	WriteResponse(w io.Writer, resp Resp, keepAlive bool) error
	// ServerError is sent when a handler misses its deadline.
	ServerError() Resp
}

// Handler produces a response for one request, typically by calling
// [Responder.Send] later from another task.
type Handler[Req, Resp any] func(r *Responder[Req, Resp])

// State is the phase a peer is in.  Exactly one holds at a time.
type State int

const (
	StateReading State = iota
	StateAwaitingResponse
	StateWriting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mode tells [Peer.Send] whether the connection may be reused.
type Mode int

const (
	KeepAlive Mode = iota
	Close
)

type phase int

const (
	phaseRead phase = iota
	phaseResponse
	phaseWrite
)

func (ph phase) String() string {
	return [...]string{"read", "response", "write"}[ph]
}

// Options holds the phase deadlines.  Zero values default to 5s.
type Options struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ResponseTimeout time.Duration
}

const defaultTimeout = 5 * time.Second

func (o Options) timeout(ph phase) time.Duration {
	var d time.Duration
	switch ph {
	case phaseRead:
		d = o.ReadTimeout
	case phaseWrite:
		d = o.WriteTimeout
	case phaseResponse:
		d = o.ResponseTimeout
	}
	if d <= 0 {
		d = defaultTimeout
	}
	return d
}

// Peer serves one connection.  All state transitions happen under mu;
// I/O happens on the peer's own goroutine outside the lock.
type Peer[Req, Resp any] struct {
	id       string
	conn     net.Conn
	reader   *bufio.Reader
	codec    Codec[Req, Resp]
	handler  Handler[Req, Resp]
	submit   dispatcher.Submitter
	registry *Registry
	opts     Options
	logger   *util.Logger
	metrics  *metrics.Collector

	mu        sync.Mutex
	state     State
	keepAlive bool
	counter   uint64
	timer     *time.Timer
	timerGen  uint64

	outbox    chan Resp
	done      chan struct{}
	closeOnce sync.Once
}

// Config bundles a peer's collaborators.
type Config[Req, Resp any] struct {
	Codec    Codec[Req, Resp]
	Handler  Handler[Req, Resp]
	Submit   dispatcher.Submitter
	Registry *Registry
	Options  Options
	Logger   *util.Logger
	Metrics  *metrics.Collector
}

// NewPeer wraps conn and registers it.  Call [Peer.Serve] to run it.
func NewPeer[Req, Resp any](conn net.Conn, cfg Config[Req, Resp]) *Peer[Req, Resp] {
	p := &Peer[Req, Resp]{
		id:       uuid.NewString(),
		conn:     conn,
		reader:   bufio.NewReader(conn),
		codec:    cfg.Codec,
		handler:  cfg.Handler,
		submit:   cfg.Submit,
		registry: cfg.Registry,
		opts:     cfg.Options,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		outbox:   make(chan Resp, 1),
		done:     make(chan struct{}),
	}
	p.registry.Add(p)
	p.metrics.ConnectionOpened()
	return p
}

// ID identifies the peer in its registry.
func (p *Peer[Req, Resp]) ID() string { return p.id }

// RemoteAddr is the client address.
func (p *Peer[Req, Resp]) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// State returns the current phase.
func (p *Peer[Req, Resp]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Counter returns the counter a response must carry to be written.
func (p *Peer[Req, Resp]) Counter() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// Done is closed once the peer has closed.
func (p *Peer[Req, Resp]) Done() <-chan struct{} { return p.done }

// Serve runs the read/respond/write cycle until the connection closes.
// It blocks.
func (p *Peer[Req, Resp]) Serve() {
	defer p.Close() //nolint:errcheck

	for {
		if !p.beginRead() {
			return
		}
		var resp Resp
		select {
		case resp = <-p.outbox:
		case <-p.done:
			return
		}
		if !p.write(resp) {
			return
		}
	}
}

// ── Cycle ────────────────────────────────────────────────────────────

func (p *Peer[Req, Resp]) beginRead() bool {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return false
	}
	p.state = StateReading
	p.armLocked(phaseRead)
	p.mu.Unlock()

	req, err := p.codec.ReadRequest(p.reader)
	if err != nil {
		if util.IsHarmless(err) {
			p.logger.Debug("peer %s: read: %v", p.id, err)
		} else {
			p.logger.Verbose("peer %s: read: %v", p.id, err)
		}
		return false
	}

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return false
	}
	p.cancelLocked()
	p.keepAlive = p.codec.KeepAlive(req)
	p.state = StateAwaitingResponse
	p.armLocked(phaseResponse)
	r := &Responder[Req, Resp]{peer: p, Request: req, Counter: p.counter}
	p.mu.Unlock()

	if !p.submit.Submit(func() { p.handler(r) }) {
		p.logger.Debug("peer %s: dispatcher stopped", p.id)
		return false
	}
	return true
}

// Send writes resp if counter is still current.  Otherwise it is a
// no-op and returns false.  Mode Close ends the connection after the
// write even if the request asked for keep-alive.
func (p *Peer[Req, Resp]) Send(resp Resp, counter uint64, mode Mode) bool {
	p.mu.Lock()
	if p.state != StateAwaitingResponse || counter != p.counter {
		state, current := p.state, p.counter
		p.mu.Unlock()
		p.metrics.StaleResponse()
		p.logger.Debug("peer %s: dropped response for request %d (current %d, %s)",
			p.id, counter, current, state)
		return false
	}
	if mode == Close {
		p.keepAlive = false
	}
	p.commitLocked(resp)
	p.mu.Unlock()
	return true
}

// commitLocked moves the peer to Writing and advances the counter, so
// no other response for this cycle can be committed.  The counter moves
// at commit rather than when the write completes: a responder is stale
// as soon as its cycle has an answer.
func (p *Peer[Req, Resp]) commitLocked(resp Resp) {
	p.cancelLocked()
	p.state = StateWriting
	p.counter++
	p.outbox <- resp
}

func (p *Peer[Req, Resp]) write(resp Resp) bool {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return false
	}
	keepAlive := p.keepAlive
	p.armLocked(phaseWrite)
	p.mu.Unlock()

	if err := p.codec.WriteResponse(p.conn, resp, keepAlive); err != nil {
		p.logger.Verbose("peer %s: write: %v", p.id, err)
		return false
	}

	p.mu.Lock()
	p.cancelLocked()
	p.mu.Unlock()
	return keepAlive
}

// ── Timers ───────────────────────────────────────────────────────────

// armLocked replaces the pending timer.  The callback carries the
// generation it was armed with and does nothing once it is stale.
func (p *Peer[Req, Resp]) armLocked(ph phase) {
	p.cancelLocked()
	gen := p.timerGen
	p.timer = time.AfterFunc(p.opts.timeout(ph), func() { p.expire(gen, ph) })
}

func (p *Peer[Req, Resp]) cancelLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++
}

func (p *Peer[Req, Resp]) expire(gen uint64, ph phase) {
	p.mu.Lock()
	if gen != p.timerGen || p.state == StateClosed {
		p.mu.Unlock()
		return
	}

	if ph == phaseResponse {
		if p.state == StateAwaitingResponse {
			p.metrics.ResponseTimeout()
			p.logger.Verbose("peer %s: handler missed its deadline", p.id)
			p.commitLocked(p.codec.ServerError())
		}
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.logger.Verbose("peer %s: %s timeout", p.id, ph)
	p.Close() //nolint:errcheck
}

// ── Close ────────────────────────────────────────────────────────────

// Close shuts the connection down.  It is idempotent and safe to call
// from any goroutine, including timer callbacks.
func (p *Peer[Req, Resp]) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = StateClosed
		p.cancelLocked()
		p.mu.Unlock()

		close(p.done)
		if cerr := p.conn.Close(); cerr != nil && !util.IsHarmless(cerr) {
			err = fmt.Errorf("close peer %s: %w", p.id, cerr)
		}
		p.registry.Remove(p.id)
		p.metrics.ConnectionClosed()
	})
	return err
}

// ── Responder ────────────────────────────────────────────────────────

// Responder carries a request and the counter it was read under.
type Responder[Req, Resp any] struct {
	peer    *Peer[Req, Resp]
	Request Req
	Counter uint64
}

// Send answers the request.  It returns false when the peer has moved
// on, in which case resp is dropped.
func (r *Responder[Req, Resp]) Send(resp Resp, mode Mode) bool {
	return r.peer.Send(resp, r.Counter, mode)
}

// RemoteAddr is the requesting client's address.
func (r *Responder[Req, Resp]) RemoteAddr() net.Addr { return r.peer.RemoteAddr() }
