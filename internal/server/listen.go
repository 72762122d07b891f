package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"castd/internal/errors"
	"castd/internal/retry"
	"castd/util"
)

// listener accepts connections on one address and hands each to serve
// on its own goroutine.
type listener struct {
	name    string
	ln      net.Listener
	serve   func(net.Conn)
	backoff *retry.Backoff
	logger  *util.Logger

	wg sync.WaitGroup
}

func listen(name, addr string, serve func(net.Conn), logger *util.Logger) (*listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}
	return &listener{
		name:    name,
		ln:      ln,
		serve:   serve,
		backoff: retry.AcceptBackoff(),
		logger:  logger,
	}, nil
}

// Addr is the bound address.
func (l *listener) Addr() net.Addr { return l.ln.Addr() }

// Run accepts until ctx is cancelled or the listener fails.  Temporary
// accept errors are retried with backoff.  Run waits for connection
// goroutines it started before returning.
func (l *listener) Run(ctx context.Context) error {
	defer l.wg.Wait()
	defer l.ln.Close()

	l.logger.Info("listening on %s (%s)", l.ln.Addr(), l.name)

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		var conn net.Conn
		err := l.backoff.Do(ctx, func(attempt int) error {
			c, err := l.ln.Accept()
			if err == nil {
				conn = c
				return nil
			}
			if ctx.Err() != nil || !errors.IsTemporary(err) {
				return retry.Permanent(err)
			}
			l.logger.Warn("%s: accept (attempt %d): %v", l.name, attempt, err)
			return err
		})
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("%s: accept: %w", l.name, err)
			}
		}

		l.logger.Verbose("%s: connection from %s", l.name, conn.RemoteAddr())

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serve(conn)
		}()
	}
}
