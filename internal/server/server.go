// Package server wires the game, cast and API listeners to one
// dispatcher and runs them until the context is cancelled.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"castd/config"
	"castd/internal/api"
	"castd/internal/cast"
	"castd/internal/connection"
	"castd/internal/dispatcher"
	"castd/internal/handshake"
	"castd/internal/metrics"
	"castd/internal/session"
	"castd/internal/world"
	"castd/util"
)

// pruneInterval is how often the login guard forgets aged-out hosts.
const pruneInterval = time.Minute

// Server owns every long-lived component of a castd process.
type Server struct {
	cfg      *config.Config
	logger   *util.Logger
	metrics  *metrics.Collector
	disp     *dispatcher.Dispatcher
	registry *connection.Registry
	env      *session.Env
	opts     session.Options
	deps     *cast.Deps
	api      *api.Server

	mu    sync.Mutex
	addrs map[string]net.Addr
	ready chan struct{}
}

// New builds a server from cfg.  key decrypts login blocks.
func New(cfg *config.Config, key handshake.Decrypter, logger *util.Logger) *Server {
	m := metrics.New()
	disp := dispatcher.New(logger.Named("dispatcher"), m)
	registry := connection.NewRegistry()

	w := world.NewMap()
	for _, a := range cfg.Accounts {
		w.AddAccount(a.Name, a.Password, a.Spawn)
	}
	for _, sp := range cfg.Spawns {
		w.SpawnMonster(sp.Name, sp.Position)
	}

	deps := &cast.Deps{
		World:         w,
		Chat:          world.NewChat(),
		Directory:     cast.NewDirectory(),
		Guard:         cast.NewGuard(cfg.LoginFailures, cfg.LoginReset, logger.Named("guard")),
		Logger:        logger.Named("cast"),
		Metrics:       m,
		MaxSpectators: cfg.MaxSpectators,
		CastOnLogin:   cfg.CastOnLogin,
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		disp:     disp,
		registry: registry,
		env: &session.Env{
			Dispatcher: disp,
			Registry:   registry,
			Handshake: handshake.Config{
				MinVersion: uint16(cfg.MinVersion),
				MaxVersion: uint16(cfg.MaxVersion),
				Decrypter:  key,
			},
			Logger:  logger.Named("session"),
			Metrics: m,
		},
		opts: session.Options{
			HandshakeTimeout: cfg.ReadTimeout,
			IdleTimeout:      cfg.IdleTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			QueueSize:        cfg.QueueSize,
			Rate:             rate.Limit(cfg.Rate),
			Burst:            cfg.Burst,
		},
		deps:  deps,
		addrs: make(map[string]net.Addr),
		ready: make(chan struct{}),
	}
	s.api = api.New(api.Config{
		Casts:      deps.Directory,
		Population: w,
		Dispatcher: disp,
		Registry:   registry,
		Options: connection.Options{
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			ResponseTimeout: cfg.ResponseTimeout,
		},
		Logger:  logger.Named("api"),
		Metrics: m,
	})
	return s
}

// Metrics exposes the server's counters.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Directory exposes the live-cast directory.
func (s *Server) Directory() *cast.Directory { return s.deps.Directory }

// Ready is closed once every listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address of the "game", "cast" or "api"
// listener, or nil before Ready.
func (s *Server) Addr(name string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[name]
}

// Run binds every listener and serves until ctx is cancelled or a
// listener fails.  On return every connection is closed and every
// queued task has run.
func (s *Server) Run(ctx context.Context) error {
	listeners, err := s.bind()
	if err != nil {
		return err
	}

	// The dispatcher outlives the listeners so that sessions closed
	// during shutdown still get released.
	dctx, stopDispatcher := context.WithCancel(context.Background())
	go s.disp.Run(dctx) //nolint:errcheck

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		g.Go(func() error { return l.Run(gctx) })
	}
	g.Go(func() error {
		s.pruneGuard(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		s.env.BeginShutdown()
		s.registry.CloseAll()
		return nil
	})
	close(s.ready)

	err = g.Wait()
	stopDispatcher()
	<-s.disp.Done()
	s.logger.Verbose("stopped (%d connections served)", s.metrics.TotalConnections())
	return err
}

func (s *Server) bind() ([]*listener, error) {
	type spec struct {
		name, addr string
		serve      func(net.Conn)
	}
	specs := []spec{
		{"game", s.cfg.GameAddr, s.serveGame},
		{"cast", s.cfg.CastAddr, s.serveCast},
	}
	if s.cfg.APIAddr != "" {
		specs = append(specs, spec{"api", s.cfg.APIAddr, s.serveAPI})
	}

	var out []*listener
	for _, sp := range specs {
		l, err := listen(sp.name, sp.addr, sp.serve, s.logger)
		if err != nil {
			for _, bound := range out {
				bound.ln.Close()
			}
			return nil, err
		}
		out = append(out, l)
		s.mu.Lock()
		s.addrs[sp.name] = l.Addr()
		s.mu.Unlock()
	}
	return out, nil
}

func (s *Server) serveGame(conn net.Conn) {
	s.serveSession(conn, cast.NewCaster(s.deps))
}

func (s *Server) serveCast(conn net.Conn) {
	s.serveSession(conn, cast.NewSpectator(s.deps))
}

func (s *Server) serveSession(conn net.Conn, v session.Variant) {
	if s.env.ShuttingDown() {
		conn.Close()
		return
	}
	sess, err := session.New(conn, s.env, s.opts, v)
	if err != nil {
		s.logger.Error("%s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	// Shutdown may have swept the registry before New registered.
	if s.env.ShuttingDown() {
		sess.Close() //nolint:errcheck
		return
	}
	sess.Serve()
}

func (s *Server) serveAPI(conn net.Conn) {
	if s.env.ShuttingDown() {
		conn.Close()
		return
	}
	s.api.ServeConn(conn)
}

func (s *Server) pruneGuard(ctx context.Context) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.disp.Submit(func() {
				if n := s.deps.Guard.Prune(); n > 0 {
					s.logger.Debug("login guard forgot %d hosts", n)
				}
			})
		}
	}
}
