// Package service wires an event source, the main adapter and its worker pool,
// and hands out per-client adapters for streaming.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/watchq/internal/adapters/mq/queue"
	"github.com/okian/watchq/internal/adapters/mq/worker"
	"github.com/okian/watchq/internal/domain/model"
	"github.com/okian/watchq/pkg/logger"
	"github.com/okian/watchq/pkg/metrics"
)

// ErrNotStarted is returned by operations that need a running service.
var ErrNotStarted = errors.New("service not started")

const defaultStopTimeout = 5 * time.Second

// Service owns the main adapter and hands out stream adapters on the same source.
type Service struct {
	mu sync.RWMutex

	source      queue.Source[model.Event]
	adapterOpts []queue.Option
	streamOpts  []queue.Option
	workerCount int
	handler     worker.Handler
	stopTimeout time.Duration

	adapter *queue.Adapter[model.Event]
	pool    *worker.Pool
	done    chan struct{}
	runErr  error
	started bool

	streams   atomic.Int64
	kindMu    sync.Mutex
	kinds     map[model.Kind]int64
	lastEvent model.Event

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithAdapterOptions configures the main adapter.
func WithAdapterOptions(opts ...queue.Option) Option {
	return func(s *Service) {
		s.adapterOpts = append(s.adapterOpts, opts...)
	}
}

// WithStreamOptions sets the defaults for adapters returned by Watch.
func WithStreamOptions(opts ...queue.Option) Option {
	return func(s *Service) {
		s.streamOpts = append(s.streamOpts, opts...)
	}
}

// WithWorkerCount sets the number of goroutines draining the main adapter.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithHandler replaces the default handler, which logs and counts events.
func WithHandler(h worker.Handler) Option {
	return func(s *Service) {
		if h != nil {
			s.handler = h
		}
	}
}

// WithStopTimeout bounds how long Stop waits for workers.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service reading from src.
func New(src queue.Source[model.Event], opts ...Option) *Service {
	s := &Service{
		source:      src,
		workerCount: 1,
		stopTimeout: defaultStopTimeout,
		kinds:       make(map[model.Kind]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.handler == nil {
		s.handler = worker.HandlerFunc(s.record)
	}
	return s
}

// Start subscribes the main adapter and starts the workers. ctx is the
// adapter's cancellation signal: when it is done the service winds down.
// A failed subscription is returned here.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting watch service...")

	opts := append(slices.Clip(s.adapterOpts), queue.WithName("main"))
	adapter := queue.New(ctx, s.source, opts...)
	if adapter.Reason() == queue.ReasonErrored {
		return fmt.Errorf("start: %w", adapter.Err())
	}

	s.adapter = adapter
	s.pool = worker.NewPool(s.workerCount, adapter, s.handler)
	s.done = make(chan struct{})
	s.runErr = nil
	s.started = true

	go func(pool *worker.Pool, done chan struct{}) {
		err := pool.Run(ctx)
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
		if err != nil {
			s.logger.Error(ctx, "workers stopped with error", logger.Error(err))
		}
		close(done)
	}(s.pool, s.done)

	s.logger.Info(ctx, "watch service started",
		logger.Int("workers", s.workerCount),
		logger.Int("max_queue", adapter.MaxQueue()),
		logger.String("overflow", adapter.Policy().String()),
	)
	return nil
}

// Wait blocks until the workers stop or ctx is done, and returns the main
// adapter's terminal error, if any.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runErr
}

// Stop stops the main adapter and waits for the workers, bounded by the
// stop timeout. Stream adapters end with their own contexts.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	adapter, pool, done := s.adapter, s.pool, s.done
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping watch service...")
	adapter.Stop()
	if err := pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "workers did not stop in time", logger.Error(err))
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info(ctx, "watch service stopped", logger.Int64("processed", pool.Processed()))
}

// Watch opens a new adapter on the service's source for a single client.
// ctx ends the stream; opts override the configured stream defaults.
func (s *Service) Watch(ctx context.Context, opts ...queue.Option) *queue.Adapter[model.Event] {
	all := append(slices.Clip(s.streamOpts), opts...)
	a := queue.New(ctx, s.source, all...)

	s.streams.Add(1)
	metrics.AddStreamClients(1)
	go func() {
		<-a.Done()
		s.streams.Add(-1)
		metrics.AddStreamClients(-1)
	}()

	s.logger.Debug(ctx, "stream opened", logger.String("adapter", a.Name()))
	return a
}

// record is the default handler: it counts events per kind.
func (s *Service) record(ctx context.Context, ev model.Event) error { //nolint:gocritic // hugeParam: matches worker.HandlerFunc
	s.kindMu.Lock()
	s.kinds[ev.Kind]++
	s.lastEvent = ev
	s.kindMu.Unlock()

	s.logger.Debug(ctx, "event",
		logger.String("id", ev.ID),
		logger.String("kind", string(ev.Kind)),
		logger.String("subject", ev.Subject),
		logger.String("op", ev.Op),
	)
	return nil
}

// KindCounts returns how many events of each kind the default handler saw.
func (s *Service) KindCounts() map[model.Kind]int64 {
	s.kindMu.Lock()
	defer s.kindMu.Unlock()
	return maps.Clone(s.kinds)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":        s.started,
		"workers":        s.workerCount,
		"stream_clients": s.streams.Load(),
	}

	s.kindMu.Lock()
	kinds := make(map[string]int64, len(s.kinds))
	for k, n := range s.kinds {
		kinds[string(k)] = n
	}
	if s.lastEvent.ID != "" {
		stats["last_event"] = s.lastEvent
	}
	s.kindMu.Unlock()
	stats["events_by_kind"] = kinds

	if s.adapter != nil {
		a := s.adapter
		stats["adapter"] = map[string]interface{}{
			"name":      a.Name(),
			"state":     a.State().String(),
			"reason":    a.Reason().String(),
			"max_queue": a.MaxQueue(),
			"overflow":  a.Policy().String(),
			"buffered":  a.Len(),
			"waiters":   a.Waiting(),
			"dropped":   a.Dropped(),
		}
		if err := a.Err(); err != nil {
			stats["error"] = err.Error()
		}
	}
	if s.pool != nil {
		stats["processed"] = s.pool.Processed()
		stats["failed"] = s.pool.Failed()
	}
	return stats
}
