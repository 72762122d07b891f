package connection

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"castd/internal/dispatcher"
	"castd/internal/metrics"
	"castd/util"
)

// ── Line codec ───────────────────────────────────────────────────────

// lineReq is "<body> keep" or "<body> close".
type lineReq struct {
	body string
	keep bool
}

type lineCodec struct{}

func (lineCodec) ReadRequest(r *bufio.Reader) (lineReq, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return lineReq{}, err
	}
	fields := strings.Fields(line)
	req := lineReq{}
	if len(fields) > 0 {
		req.body = fields[0]
	}
	req.keep = len(fields) > 1 && fields[1] == "keep"
	return req, nil
}

func (lineCodec) KeepAlive(r lineReq) bool { return r.keep }

func (lineCodec) WriteResponse(w io.Writer, resp string, keepAlive bool) error {
	if !keepAlive {
		resp += " close"
	}
	_, err := io.WriteString(w, resp+"\n")
	return err
}

func (lineCodec) ServerError() string { return "500" }

// ── Harness ──────────────────────────────────────────────────────────

type harness struct {
	peer       *Peer[lineReq, string]
	client     net.Conn
	reader     *bufio.Reader
	responders chan *Responder[lineReq, string]
	registry   *Registry
	metrics    *metrics.Collector
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	server, client := net.Pipe()
	h := &harness{
		client:     client,
		reader:     bufio.NewReader(client),
		responders: make(chan *Responder[lineReq, string], 8),
		registry:   NewRegistry(),
		metrics:    metrics.New(),
	}
	h.peer = NewPeer(server, Config[lineReq, string]{
		Codec:    lineCodec{},
		Handler:  func(r *Responder[lineReq, string]) { h.responders <- r },
		Submit:   dispatcher.Inline{},
		Registry: h.registry,
		Options:  opts,
		Logger:   util.NewLogger(0),
		Metrics:  h.metrics,
	})
	go h.peer.Serve()
	t.Cleanup(func() {
		client.Close()
		h.peer.Close()
	})
	return h
}

func (h *harness) request(t *testing.T, line string) *Responder[lineReq, string] {
	t.Helper()
	if _, err := io.WriteString(h.client, line+"\n"); err != nil {
		t.Fatalf("write request: %v", err)
	}
	select {
	case r := <-h.responders:
		return r
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
		return nil
	}
}

func (h *harness) readLine(t *testing.T) string {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(time.Second))
	line, err := h.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func (h *harness) expectSilence(t *testing.T) {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if line, err := h.reader.ReadString('\n'); !util.IsTimeout(err) {
		t.Fatalf("expected no output, got %q (%v)", line, err)
	}
	h.client.SetReadDeadline(time.Time{})
}

func waitClosed(t *testing.T, p *Peer[lineReq, string]) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not close")
	}
}

var slow = Options{ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second, ResponseTimeout: 2 * time.Second}

// ── Correlation ──────────────────────────────────────────────────────

func TestPeer_StaleSendHasNoEffect(t *testing.T) {
	h := newHarness(t, slow)
	r := h.request(t, "a keep")

	if h.peer.Send("stale", r.Counter+1, KeepAlive) {
		t.Fatal("send with a future counter was applied")
	}
	if h.peer.State() != StateAwaitingResponse {
		t.Errorf("state = %s after stale send", h.peer.State())
	}
	if h.peer.Counter() != r.Counter {
		t.Errorf("counter moved to %d", h.peer.Counter())
	}
	h.expectSilence(t)

	if !r.Send("ok", KeepAlive) {
		t.Fatal("current send was dropped")
	}
	if got := h.readLine(t); got != "ok" {
		t.Errorf("response = %q", got)
	}

	// The responder is spent once its write was committed.
	if r.Send("again", KeepAlive) {
		t.Error("second send for the same request was applied")
	}
	if h.metrics.StaleResponses() != 2 {
		t.Errorf("stale responses = %d, want 2", h.metrics.StaleResponses())
	}
}

func TestPeer_KeepAliveCycles(t *testing.T) {
	h := newHarness(t, slow)

	for i, body := range []string{"one", "two", "three"} {
		r := h.request(t, body+" keep")
		if r.Request.body != body {
			t.Errorf("request %d body = %q", i, r.Request.body)
		}
		if r.Counter != uint64(i) {
			t.Errorf("request %d counter = %d", i, r.Counter)
		}
		r.Send(body, KeepAlive)
		if got := h.readLine(t); got != body {
			t.Errorf("response %d = %q", i, got)
		}
	}
	if h.peer.State() == StateClosed {
		t.Error("keep-alive peer closed")
	}
}

func TestPeer_CloseRequest(t *testing.T) {
	h := newHarness(t, slow)
	r := h.request(t, "a close")
	r.Send("bye", KeepAlive)

	if got := h.readLine(t); got != "bye close" {
		t.Errorf("response = %q, want close marker", got)
	}
	waitClosed(t, h.peer)
}

func TestPeer_SendModeCloseOverridesKeepAlive(t *testing.T) {
	h := newHarness(t, slow)
	r := h.request(t, "a keep")
	r.Send("bye", Close)

	if got := h.readLine(t); got != "bye close" {
		t.Errorf("response = %q", got)
	}
	waitClosed(t, h.peer)
}

// ── Timeouts ─────────────────────────────────────────────────────────

func TestPeer_ResponseTimeoutSynthesizesError(t *testing.T) {
	h := newHarness(t, Options{
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
		ResponseTimeout: 30 * time.Millisecond,
	})

	late := h.request(t, "a keep")
	if got := h.readLine(t); got != "500" {
		t.Fatalf("response = %q, want 500", got)
	}
	if late.Send("late", KeepAlive) {
		t.Error("late handler response was applied")
	}

	// Keep-alive was honoured: the connection serves another request.
	h.request(t, "b close")
	if got := h.readLine(t); got != "500 close" {
		t.Fatalf("second response = %q", got)
	}
	waitClosed(t, h.peer)

	if h.metrics.ResponseTimeouts() != 2 {
		t.Errorf("timeouts = %d, want 2", h.metrics.ResponseTimeouts())
	}
}

func TestPeer_ReadTimeoutCloses(t *testing.T) {
	h := newHarness(t, Options{
		ReadTimeout:     30 * time.Millisecond,
		WriteTimeout:    time.Second,
		ResponseTimeout: time.Second,
	})
	waitClosed(t, h.peer)

	if h.peer.State() != StateClosed {
		t.Errorf("state = %s", h.peer.State())
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry still holds %d peers", h.registry.Len())
	}
	h.client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := h.reader.ReadByte(); err != io.EOF {
		t.Errorf("client read err = %v, want EOF", err)
	}
}

func TestPeer_WriteTimeoutCloses(t *testing.T) {
	h := newHarness(t, Options{
		ReadTimeout:     time.Second,
		WriteTimeout:    30 * time.Millisecond,
		ResponseTimeout: time.Second,
	})
	r := h.request(t, "a keep")
	r.Send("nobody reads this", KeepAlive)

	// The client never reads, so the pipe write blocks until the timer
	// closes the peer.
	waitClosed(t, h.peer)
}

// ── Close ────────────────────────────────────────────────────────────

func TestPeer_CloseIdempotent(t *testing.T) {
	h := newHarness(t, slow)
	if h.registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", h.registry.Len())
	}

	for i := 0; i < 3; i++ {
		if err := h.peer.Close(); err != nil {
			t.Errorf("close %d: %v", i, err)
		}
	}
	if h.registry.Len() != 0 {
		t.Error("peer not deregistered")
	}
	if h.metrics.ActiveConnections() != 0 {
		t.Errorf("active = %d", h.metrics.ActiveConnections())
	}
	if h.peer.Send("x", 0, KeepAlive) {
		t.Error("send after close was applied")
	}
}

func TestPeer_CloseWhileAwaiting(t *testing.T) {
	h := newHarness(t, slow)
	r := h.request(t, "a keep")
	h.peer.Close()
	waitClosed(t, h.peer)

	if r.Send("too late", KeepAlive) {
		t.Error("send to a closed peer was applied")
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateReading:          "reading",
		StateAwaitingResponse: "awaiting-response",
		StateWriting:          "writing",
		StateClosed:           "closed",
		State(9):              "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d = %q, want %q", s, s.String(), want)
		}
	}
}
