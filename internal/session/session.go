// Package session is the game connection core shared by every protocol
// variant: checksummed framing, the XTEA cipher installed by the
// handshake, phase deadlines, and a bounded outbound queue drained by a
// dedicated writer.  What the session does with a message is decided by
// the [Variant] it is constructed with.
package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"castd/internal/connection"
	"castd/internal/dispatcher"
	"castd/internal/errors"
	"castd/internal/handshake"
	"castd/internal/metrics"
	"castd/internal/protocol"
	"castd/util"
)

// Variant is the protocol-specific half of a session.
type Variant interface {
	// OnFirstMessage handles the handshake message.  It runs on the
	// reader goroutine, so a key it installs applies to the next frame.
	OnFirstMessage(s *Session, msg *protocol.Message) error
	// ParsePacket handles every later message, also on the reader
	// goroutine.  msg aliases a pooled buffer and must not be retained.
	ParsePacket(s *Session, msg *protocol.Message) error
	// Release runs once on the dispatcher after the session closed.
	Release(s *Session)
}

// Env carries the process-wide collaborators a session needs.
type Env struct {
	Dispatcher dispatcher.Submitter
	Registry   *connection.Registry
	Handshake  handshake.Config
	Logger     *util.Logger
	Metrics    *metrics.Collector

	shutdown atomic.Bool
}

// BeginShutdown makes sessions ignore further game packets.
func (e *Env) BeginShutdown() { e.shutdown.Store(true) }

// ShuttingDown reports whether BeginShutdown was called.
func (e *Env) ShuttingDown() bool { return e.shutdown.Load() }

// Options are the per-session limits.
type Options struct {
	// HandshakeTimeout bounds the wait for the first message.
	HandshakeTimeout time.Duration
	// IdleTimeout bounds the wait for every later message.
	IdleTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// QueueSize is the outbound frame capacity.  A session whose queue
	// overflows is closed.
	QueueSize int
	// Rate and Burst limit inbound frames.  Rate <= 0 disables it.
	Rate  rate.Limit
	Burst int
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 5 * time.Second,
		IdleTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		QueueSize:        256,
		Rate:             50,
		Burst:            100,
	}
}

type frame struct {
	data       []byte
	closeAfter bool
}

// Session is one game connection.
type Session struct {
	id        string
	conn      net.Conn
	env       *Env
	opts      Options
	variant   Variant
	challenge *handshake.Challenge
	limiter   *rate.Limiter
	logger    *util.Logger

	cipher  atomic.Pointer[protocol.Cipher]
	closing atomic.Bool

	out       chan frame
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps conn and registers it with env.Registry.  Call Serve to run
// it.
func New(conn net.Conn, env *Env, opts Options, variant Variant) (*Session, error) {
	ch, err := handshake.NewChallenge(time.Now())
	if err != nil {
		return nil, err
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	limit, burst := opts.Rate, opts.Burst
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		env:       env,
		opts:      opts,
		variant:   variant,
		challenge: ch,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    env.Logger,
		out:       make(chan frame, opts.QueueSize),
		done:      make(chan struct{}),
	}
	env.Registry.Add(s)
	env.Metrics.ConnectionOpened()
	return s, nil
}

// ── Accessors ────────────────────────────────────────────────────────

func (s *Session) ID() string                      { return s.id }
func (s *Session) RemoteAddr() net.Addr            { return s.conn.RemoteAddr() }
func (s *Session) Env() *Env                       { return s.env }
func (s *Session) Logger() *util.Logger            { return s.logger }
func (s *Session) Challenge() *handshake.Challenge { return s.challenge }
func (s *Session) Done() <-chan struct{}           { return s.done }

// Encrypted reports whether the XTEA key is installed.
func (s *Session) Encrypted() bool { return s.cipher.Load() != nil }

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Submit runs task on the dispatcher.  It returns false when the task
// was refused.
func (s *Session) Submit(task func()) bool {
	return s.env.Dispatcher.Submit(task)
}

// ── Serve ────────────────────────────────────────────────────────────

// Serve sends the challenge and runs the read loop until the session
// ends.  It blocks.
func (s *Session) Serve() {
	go s.writeLoop()

	if err := s.Send(s.challenge.Payload()); err != nil {
		s.Close() //nolint:errcheck
		return
	}

	buf := util.Frames.Get()
	defer util.Frames.Put(buf)

	first := true
	for {
		timeout := s.opts.IdleTimeout
		if first {
			timeout = s.opts.HandshakeTimeout
		}
		if timeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
		}

		payload, err := protocol.ReadFrame(s.conn, *buf)
		if err != nil {
			s.readFailed(err)
			return
		}
		s.env.Metrics.BytesReceived(int64(protocol.HeaderSize + protocol.ChecksumSize + len(payload)))

		if !s.limiter.Allow() {
			s.logger.Warn("%s: inbound rate exceeded", s.conn.RemoteAddr())
			s.Close() //nolint:errcheck
			return
		}

		if c := s.cipher.Load(); c != nil {
			if payload, err = c.Open(payload); err != nil {
				s.logger.Verbose("%s: %v", s.conn.RemoteAddr(), err)
				s.Close() //nolint:errcheck
				return
			}
		}

		if !first && len(payload) > 0 && s.logger.Enabled(util.LogDebug) {
			s.logger.Debug("%s: packet %#x, %d bytes", s.conn.RemoteAddr(), payload[0], len(payload))
		}
		msg := protocol.NewMessage(payload)
		if first {
			first = false
			err = s.variant.OnFirstMessage(s, msg)
		} else {
			err = s.variant.ParsePacket(s, msg)
		}
		if err != nil {
			s.fail(err)
			return
		}
		if s.Closed() {
			return
		}
	}
}

func (s *Session) readFailed(err error) {
	switch {
	case s.Closed() || util.IsHarmless(err):
		s.logger.Debug("%s: read: %v", s.conn.RemoteAddr(), err)
	case util.IsTimeout(err):
		s.logger.Verbose("%s: read timeout", s.conn.RemoteAddr())
	default:
		s.logger.Verbose("%s: read: %v", s.conn.RemoteAddr(), err)
	}
	s.Close() //nolint:errcheck
}

// fail ends the session after a variant error.  A user-facing reason is
// delivered in a disconnect frame; anything else closes silently.
func (s *Session) fail(err error) {
	if reason := errors.Reason(err); reason != "" {
		s.logger.Verbose("%s: %v", s.conn.RemoteAddr(), err)
		s.Disconnect(reason)
		return
	}
	s.logger.Debug("%s: %v", s.conn.RemoteAddr(), err)
	s.Close() //nolint:errcheck
}

// ── Handshake ────────────────────────────────────────────────────────

// Handshake validates the first message against the challenge issued at
// accept, installs the client's key and, for clients that expect it,
// queues the extended opcode ack.
func (s *Session) Handshake(msg *protocol.Message) (*handshake.Result, error) {
	res, err := handshake.Parse(msg, s.env.Handshake, s.challenge)
	if err != nil {
		s.env.Metrics.HandshakeFailed()
		return nil, err
	}
	if err := s.InstallKey(res.Key); err != nil {
		return nil, err
	}
	if res.NeedsAck() {
		if err := s.Send(protocol.AckPayload()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// InstallKey enables XTEA for every frame after this call.  A session's
// key can be installed once.
func (s *Session) InstallKey(key [4]uint32) error {
	c, err := protocol.NewCipher(key)
	if err != nil {
		return err
	}
	if !s.cipher.CompareAndSwap(nil, c) {
		return errors.ErrKeyInstalled
	}
	return nil
}

// ── Outbound ─────────────────────────────────────────────────────────

// Send queues payload without blocking.  A full queue closes the
// session.
func (s *Session) Send(payload []byte) error {
	return s.enqueue(payload, false)
}

// SendAndClose queues payload as the last frame; the session closes once
// it is written.  Later sends are refused.
func (s *Session) SendAndClose(payload []byte) error {
	return s.enqueue(payload, true)
}

// Disconnect shows reason to the client and closes the session.
func (s *Session) Disconnect(reason string) {
	err := s.SendAndClose(protocol.DisconnectPayload(reason))
	if err != nil && !errors.Is(err, errors.ErrSessionClosed) {
		s.Close() //nolint:errcheck
	}
}

func (s *Session) enqueue(payload []byte, closeAfter bool) error {
	if s.Closed() {
		return errors.ErrSessionClosed
	}
	if closeAfter {
		if !s.closing.CompareAndSwap(false, true) {
			return errors.ErrSessionClosed
		}
	} else if s.closing.Load() {
		return errors.ErrSessionClosed
	}

	if c := s.cipher.Load(); c != nil {
		sealed, err := c.Seal(payload)
		if err != nil {
			return err
		}
		payload = sealed
	}
	data, err := protocol.EncodeFrame(payload)
	if err != nil {
		return err
	}

	select {
	case s.out <- frame{data: data, closeAfter: closeAfter}:
		return nil
	default:
		s.logger.Warn("%s: outbound queue full (%d frames), closing", s.conn.RemoteAddr(), cap(s.out))
		s.Close() //nolint:errcheck
		return errors.ErrQueueFull
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case f := <-s.out:
			if s.opts.WriteTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)) //nolint:errcheck
			}
			n, err := s.conn.Write(f.data)
			s.env.Metrics.BytesSent(int64(n))
			if err != nil {
				if !s.Closed() {
					s.logger.Verbose("%s: write: %v", s.conn.RemoteAddr(), err)
				}
				s.Close() //nolint:errcheck
				return
			}
			if f.closeAfter {
				s.Close() //nolint:errcheck
				return
			}
		case <-s.done:
			return
		}
	}
}

// ── Close ────────────────────────────────────────────────────────────

// Close ends the session.  It is idempotent and safe from any
// goroutine.  The variant's Release runs afterwards on the dispatcher,
// or inline when the dispatcher no longer accepts work.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if cerr := s.conn.Close(); cerr != nil && !util.IsHarmless(cerr) {
			err = fmt.Errorf("close session %s: %w", s.id, cerr)
		}
		s.env.Registry.Remove(s.id)
		s.env.Metrics.ConnectionClosed()
		s.logger.Debug("%s: session closed", s.conn.RemoteAddr())

		release := func() { s.variant.Release(s) }
		if !s.env.Dispatcher.Submit(release) {
			release()
		}
	})
	return err
}
