package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"castd/internal/cast"
	"castd/internal/connection"
	"castd/internal/dispatcher"
	"castd/internal/metrics"
	"castd/util"
)

type fakeCasts map[string]cast.Info

func (f fakeCasts) LiveCasts() []cast.Info {
	var out []cast.Info
	for _, info := range f {
		out = append(out, info)
	}
	return out
}

func (f fakeCasts) Lookup(name string) (cast.Info, bool) {
	info, ok := f[strings.ToLower(name)]
	return info, ok
}

type fakePopulation int

func (p fakePopulation) Online() int { return int(p) }

// blackhole accepts tasks and never runs them.
type blackhole struct{}

func (blackhole) Submit(func()) bool { return true }

func testServer(t *testing.T, casts fakeCasts, submit dispatcher.Submitter) (*Server, *metrics.Collector) {
	t.Helper()
	logger := util.NewLogger(0)
	logger.SetOutput(io.Discard)
	m := metrics.New()
	return New(Config{
		Casts:      casts,
		Population: fakePopulation(3),
		Dispatcher: submit,
		Registry:   connection.NewRegistry(),
		Options:    connection.Options{ResponseTimeout: 50 * time.Millisecond},
		Logger:     logger,
		Metrics:    m,
	}), m
}

// dial serves one connection and returns the client side.
func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	server, conn := net.Pipe()
	go s.ServeConn(server)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, br *bufio.Reader, method, path string, closeConn bool) *http.Response {
	t.Helper()
	extra := ""
	if closeConn {
		extra = "Connection: close\r\n"
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := fmt.Fprintf(conn, "%s %s HTTP/1.1\r\nHost: castd\r\n%s\r\n", method, path, extra); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// ── Routes ───────────────────────────────────────────────────────────

func TestAPI_Routes(t *testing.T) {
	casts := fakeCasts{
		"bob": {Name: "Bob", Protected: true, Spectators: []string{"Spectator 1"}},
	}
	s, _ := testServer(t, casts, dispatcher.Inline{})

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"list", http.MethodGet, "/casts", http.StatusOK},
		{"lookup", http.MethodGet, "/casts/Bob", http.StatusOK},
		{"unknown cast", http.MethodGet, "/casts/alice", http.StatusNotFound},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/casts", http.StatusMethodNotAllowed},
	}

	conn, br := dial(t, s)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, conn, br, tt.method, tt.path, false)
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			if resp.StatusCode != tt.status {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.status)
			}
		})
	}
}

func TestAPI_Bodies(t *testing.T) {
	casts := fakeCasts{
		"bob": {Name: "Bob", Protected: true, Spectators: []string{"Spectator 1"}},
	}
	s, m := testServer(t, casts, dispatcher.Inline{})
	conn, br := dial(t, s)

	var health healthBody
	decode(t, roundTrip(t, conn, br, http.MethodGet, "/health", false), &health)
	if health != (healthBody{Status: "ok", Online: 3, Casts: 1}) {
		t.Errorf("health = %+v", health)
	}

	var list []cast.Info
	decode(t, roundTrip(t, conn, br, http.MethodGet, "/casts", false), &list)
	if len(list) != 1 || list[0].Name != "Bob" || !list[0].Protected {
		t.Errorf("casts = %+v", list)
	}

	var info cast.Info
	decode(t, roundTrip(t, conn, br, http.MethodGet, "/casts/BOB", false), &info)
	if info.Name != "Bob" || len(info.Spectators) != 1 {
		t.Errorf("cast = %+v", info)
	}

	var snap metrics.Snapshot
	decode(t, roundTrip(t, conn, br, http.MethodGet, "/metrics", false), &snap)
	if snap.ConnectionsActive != 1 || m.ActiveConnections() != 1 {
		t.Errorf("metrics active = %d", snap.ConnectionsActive)
	}
}

func TestAPI_EmptyListIsArray(t *testing.T) {
	s, _ := testServer(t, fakeCasts{}, dispatcher.Inline{})
	conn, br := dial(t, s)

	body, _ := io.ReadAll(roundTrip(t, conn, br, http.MethodGet, "/casts", false).Body)
	if got := strings.TrimSpace(string(body)); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

// ── Connection handling ──────────────────────────────────────────────

func TestAPI_ConnectionClose(t *testing.T) {
	s, _ := testServer(t, fakeCasts{}, dispatcher.Inline{})
	conn, br := dial(t, s)

	resp := roundTrip(t, conn, br, http.MethodGet, "/health", true)
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	if !resp.Close {
		t.Error("response should announce Connection: close")
	}
	if _, err := br.ReadByte(); err == nil {
		t.Error("connection should be closed after the response")
	}
}

func TestAPI_HandlerTimeout(t *testing.T) {
	s, m := testServer(t, fakeCasts{}, blackhole{})
	conn, br := dial(t, s)

	for i := 0; i < 2; i++ {
		resp := roundTrip(t, conn, br, http.MethodGet, "/health", false)
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("request %d: status = %d, want 500", i, resp.StatusCode)
		}
		if resp.Close {
			t.Fatalf("request %d: keep-alive should survive a handler timeout", i)
		}
	}
	if got := m.ResponseTimeouts(); got != 2 {
		t.Errorf("response timeouts = %d, want 2", got)
	}
}

func TestAPI_MalformedRequest(t *testing.T) {
	s, _ := testServer(t, fakeCasts{}, dispatcher.Inline{})
	conn, br := dial(t, s)

	conn.SetDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	fmt.Fprint(conn, "this is not http\r\n\r\n")
	if _, err := br.ReadByte(); err == nil {
		t.Error("malformed request should close the connection")
	}
}
