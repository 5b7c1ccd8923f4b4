// Package session serializes access to the single-threaded-affine mail
// capability: one owner goroutine, one operation in flight, concurrent
// triggers rejected as busy instead of interleaved.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// ErrBusy is returned when a send or poll is already in flight.
var ErrBusy = errors.New("a mail session operation is already in flight")

// ErrStopped is returned when the runner has been shut down.
var ErrStopped = errors.New("the mail session runner is stopped")

// Operation is one unit of work executed on the owner goroutine.
type Operation func(ctx context.Context) error

type request struct {
	ctx  context.Context
	name string
	op   Operation
	done chan error
}

// Runner owns the capability. All operations submitted through Run execute
// sequentially on one goroutine.
type Runner struct {
	requests chan request
	logger   *slog.Logger

	// inflight is the busy token. It is held from Run accepting an
	// operation until that operation's result is delivered, so busy means
	// exactly "an operation holds the capability", independent of where
	// the owner goroutine happens to be scheduled.
	inflight chan struct{}

	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewRunner starts the owner goroutine.
func NewRunner(logger *slog.Logger) *Runner {
	r := &Runner{
		requests: make(chan request),
		logger:   logger,
		inflight: make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	for {
		select {
		case req := <-r.requests:
			r.logger.Debug("session operation started", "operation", req.name)
			err := req.op(req.ctx)
			if err != nil {
				r.logger.Warn("session operation finished with error", "operation", req.name, "error", err)
			} else {
				r.logger.Debug("session operation finished", "operation", req.name)
			}
			req.done <- err
		case <-r.quit:
			close(r.stopped)
			return
		}
	}
}

// Run submits op and waits for it to finish. If another operation is in
// flight, Run returns ErrBusy immediately rather than queueing behind it. A
// strictly sequential caller is never rejected.
func (r *Runner) Run(ctx context.Context, name string, op Operation) error {
	select {
	case r.inflight <- struct{}{}:
	default:
		return ErrBusy
	}

	req := request{ctx: ctx, name: name, op: op, done: make(chan error, 1)}
	select {
	case r.requests <- req:
	case <-r.stopped:
		<-r.inflight
		return ErrStopped
	case <-ctx.Done():
		<-r.inflight
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		<-r.inflight
		return err
	case <-ctx.Done():
		// The operation keeps the capability until it notices the
		// cancellation itself; release the busy token only then.
		go func() {
			<-req.done
			<-r.inflight
		}()
		return ctx.Err()
	}
}

// Stop shuts the owner goroutine down after the in-flight operation, if
// any, completes.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
	})
	<-r.stopped
}
