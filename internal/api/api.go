// Package api serves a small read-only HTTP/1.1 status API over
// keep-alive [connection.Peer] connections.  Requests are routed with
// gorilla/mux on the dispatcher, so handlers see the same consistent
// state as the game logic.
package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"castd/internal/cast"
	"castd/internal/connection"
	"castd/internal/dispatcher"
	"castd/internal/metrics"
	"castd/util"
)

// Casts lists live casts.
type Casts interface {
	LiveCasts() []cast.Info
	Lookup(name string) (cast.Info, bool)
}

// Population reports how many players are online.
type Population interface {
	Online() int
}

// Config bundles the server's collaborators.
type Config struct {
	Casts      Casts
	Population Population
	Dispatcher dispatcher.Submitter
	Registry   *connection.Registry
	Options    connection.Options
	Logger     *util.Logger
	Metrics    *metrics.Collector
}

// Server answers API requests.
type Server struct {
	cfg    Config
	router *mux.Router
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, router: mux.NewRouter()}
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/casts", s.listCasts).Methods(http.MethodGet)
	s.router.HandleFunc("/casts/{name}", s.getCast).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.metrics).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	return s
}

// Router exposes the routes for use behind another server.
func (s *Server) Router() http.Handler { return s.router }

// ServeConn runs one API connection until it closes.  It blocks.
func (s *Server) ServeConn(conn net.Conn) {
	p := connection.NewPeer(conn, connection.Config[*http.Request, Response]{
		Codec:    httpCodec{},
		Handler:  s.handle,
		Submit:   s.cfg.Dispatcher,
		Registry: s.cfg.Registry,
		Options:  s.cfg.Options,
		Logger:   s.cfg.Logger,
		Metrics:  s.cfg.Metrics,
	})
	p.Serve()
}

// handle runs on the dispatcher.
func (s *Server) handle(r *connection.Responder[*http.Request, Response]) {
	rec := newRecorder()
	s.router.ServeHTTP(rec, r.Request)
	resp := rec.response()

	s.cfg.Logger.Debug("api %s %s %s -> %d", r.RemoteAddr(), r.Request.Method, r.Request.URL.Path, resp.Status)
	if !r.Send(resp, connection.KeepAlive) {
		s.cfg.Logger.Debug("api %s: response for %s arrived too late", r.RemoteAddr(), r.Request.URL.Path)
	}
}

// ── Routes ───────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Status string `json:"status"`
	Online int    `json:"online"`
	Casts  int    `json:"casts"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := healthBody{Status: "ok", Casts: len(s.cfg.Casts.LiveCasts())}
	if s.cfg.Population != nil {
		body.Online = s.cfg.Population.Online()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listCasts(w http.ResponseWriter, _ *http.Request) {
	casts := s.cfg.Casts.LiveCasts()
	if casts == nil {
		casts = []cast.Info{}
	}
	writeJSON(w, http.StatusOK, casts)
}

func (s *Server) getCast(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	info, ok := s.cfg.Casts.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no live cast named %q", name)})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) metrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, s.cfg.Metrics.JSON())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n')) //nolint:errcheck
}
