// Package dispatcher runs game logic as discrete tasks on one goroutine,
// so login, packet handling and fan-out never race each other and a slow
// task never stalls a socket.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"castd/internal/metrics"
	"castd/util"
)

// Submitter accepts work to run later.  Submit never blocks and reports
// false when the work will not run.
type Submitter interface {
	Submit(task func()) bool
}

// Dispatcher is a FIFO task queue drained by a single goroutine.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	signal  chan struct{}
	done    chan struct{}
	logger  *util.Logger
	metrics *metrics.Collector
}

// New creates a dispatcher.  Call [Dispatcher.Run] to start it.
func New(logger *util.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Submit queues task.  It returns false once the dispatcher has
// stopped.
func (d *Dispatcher) Submit(task func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, task)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of queued tasks.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stopped reports whether the dispatcher refuses new work.
func (d *Dispatcher) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Run executes tasks until ctx is cancelled.  Tasks already queued at
// that point still run; later submissions are refused.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped = true
			d.mu.Unlock()
			d.drain()
			d.logger.Debug("dispatcher stopped")
			return nil
		case <-d.signal:
			d.drain()
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, task := range batch {
			d.run(task)
		}
	}
}

func (d *Dispatcher) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("task panic: %v", r)
			d.metrics.RecordError(msg)
			d.logger.Error("%s\n%s", msg, debug.Stack())
		}
	}()
	task()
}

// ── Inline ───────────────────────────────────────────────────────────

// Inline runs every task immediately on the caller's goroutine.  It is
// meant for tests and for work submitted after the dispatcher stopped.
type Inline struct{}

// Submit implements [Submitter].
func (Inline) Submit(task func()) bool {
	task()
	return true
}
