// Package worker drains an event adapter and hands each event to a handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/watchq/internal/domain/model"
	"github.com/okian/watchq/pkg/logger"
	"github.com/okian/watchq/pkg/metrics"
)

// Event is what workers pull and handle.
type Event = model.Event

// Puller is the consumer side of an adapter. ok is false once the adapter
// has terminated; err is then its terminal error, if any.
type Puller interface {
	Pull(ctx context.Context) (ev Event, ok bool, err error)
}

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Worker pulls events until the adapter terminates, ctx is done or Shutdown
// is called.
type Worker struct {
	puller  Puller
	handler Handler
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	started      atomic.Bool

	processed atomic.Int64
	failed    atomic.Int64

	logger logger.Logger
}

// New creates a worker with configuration options.
func New(puller Puller, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		puller:   puller,
		handler:  handler,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run pulls and handles events. It returns nil when the adapter completes or
// is cancelled, when ctx is done, or after Shutdown; otherwise it returns the
// adapter's terminal error. Run may only be called once.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(w.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		ev, ok, err := w.puller.Pull(runCtx)
		if err != nil {
			if runCtx.Err() != nil && errors.Is(err, runCtx.Err()) {
				w.logger.Debug(ctx, "worker stopped", logger.Int64("processed", w.processed.Load()))
				return nil
			}
			w.logger.Warn(ctx, "event source terminated with error", logger.Error(err))
			return fmt.Errorf("%s: %w", w.name, err)
		}
		if !ok {
			w.logger.Debug(ctx, "event source finished", logger.Int64("processed", w.processed.Load()))
			return nil
		}
		w.process(runCtx, ev)
	}
}

func (w *Worker) process(ctx context.Context, ev Event) { //nolint:gocritic // hugeParam: Event is handed to the handler by value
	start := time.Now()
	err := w.handler.Handle(ctx, ev)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		w.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handler")
		w.logger.Error(ctx, "handler failed",
			logger.String("event_id", ev.ID),
			logger.String("subject", ev.Subject),
			logger.Error(err),
		)
		return
	}
	w.processed.Add(1)
	metrics.RecordEventProcessed()
}

// Shutdown stops the worker and waits for Run to return, bounded by ctx. An
// event already being handled is allowed to finish.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	if !w.started.Load() {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Processed returns the number of events handled successfully.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of events whose handler returned an error.
func (w *Worker) Failed() int64 { return w.failed.Load() }

// Pool runs several workers against the same adapter. Parked pulls are served
// in FIFO order, so events are spread across idle workers.
type Pool struct {
	workers []*Worker
	logger  logger.Logger
}

// NewPool creates count workers sharing puller and handler. count below one
// is treated as one.
func NewPool(count int, puller Puller, handler Handler, opts ...Option) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{
		workers: make([]*Worker, count),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = New(puller, handler, append(slices.Clip(opts), WithName("worker-"+strconv.Itoa(i)))...)
	}
	return p
}

// Run runs every worker and returns once all of them have stopped. The first
// terminal error is returned; the adapter is shared, so the others see it too.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
	err := g.Wait()
	p.logger.Info(ctx, "worker pool stopped", logger.Int64("processed", p.Processed()))
	return err
}

// Shutdown stops every worker, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	var errs []error
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the total number of events handled successfully.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Failed returns the total number of handler errors.
func (p *Pool) Failed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Failed()
	}
	return n
}
