// Package queue turns a callback-driven event source into a bounded,
// cancellable sequence that a single consumer pulls from.
//
// Events pushed by the source go straight to a parked Pull when there is one,
// otherwise into a FIFO buffer of at most MaxQueue events. A full buffer is
// handled by the configured OverflowPolicy. The adapter terminates once, on
// the first of: Stop, Abort, context cancellation, a source error, or an
// overflow under OverflowThrow. Termination closes the subscription exactly
// once, discards buffered events and resolves every parked Pull.
package queue

import (
	"container/list"
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/watchq/pkg/logger"
	"github.com/okian/watchq/pkg/metrics"
)

// overflowLogEvery throttles the overflow warning under sustained pressure.
const overflowLogEvery = 1024

type result[T any] struct {
	value T
	ok    bool
	err   error
}

type waiter[T any] struct {
	ch      chan result[T] // capacity 1; written once, under the adapter lock
	claimed bool
	since   time.Time
}

// Adapter is a bounded push-to-pull event queue. It is safe for concurrent
// use, although it is meant to serve a single logical consumer.
type Adapter[T any] struct {
	name       string
	maxQueue   int
	policy     OverflowPolicy
	onOverflow func(OverflowInfo)
	logger     logger.Logger
	signal     context.Context // cancellation signal given to New

	mu          sync.Mutex
	buf         *buffer[T]
	waiters     *list.List // of *waiter[T]; non-empty only while buf is empty
	state       State
	reason      Reason
	err         error
	dropped     int64
	unsubscribe func()
	stopSignal  func() bool

	done chan struct{} // closed once termination has fully completed
}

// New creates an adapter and subscribes to src immediately. ctx is the
// cancellation signal: when it is done the adapter terminates as cancelled.
// If ctx is already done, src is never subscribed. A failed subscription
// leaves the adapter terminated with an error wrapping ErrSubscription,
// which every Pull reports.
func New[T any](ctx context.Context, src Source[T], opts ...Option) *Adapter[T] {
	s := settings{maxQueue: DefaultMaxQueue, policy: OverflowIgnore}
	for _, opt := range opts {
		opt(&s)
	}
	if s.name == "" {
		s.name = uuid.NewString()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("queue")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a := &Adapter[T]{
		name:       s.name,
		maxQueue:   s.maxQueue,
		policy:     s.policy,
		onOverflow: s.onOverflow,
		logger:     s.logger.With(logger.String("adapter", s.name)),
		buf:        newBuffer[T](s.maxQueue),
		waiters:    list.New(),
		signal:     ctx,
		state:      StateActive,
		done:       make(chan struct{}),
	}
	metrics.AddActiveAdapters(1)

	if ctx.Err() != nil {
		a.terminate(ReasonCancelled, nil)
		return a
	}

	unsubscribe, err := src.Subscribe(a.push, a.fail)
	if err != nil {
		metrics.RecordSubscription("failed")
		metrics.RecordErrorByComponent("queue", "subscribe")
		a.terminate(ReasonErrored, fmt.Errorf("%w: %w", ErrSubscription, err))
		return a
	}
	metrics.RecordSubscription("opened")
	a.attach(unsubscribe, context.AfterFunc(ctx, func() {
		a.terminate(ReasonCancelled, nil)
	}))

	a.logger.Debug(ctx, "adapter subscribed",
		logger.Int("max_queue", a.maxQueue),
		logger.String("overflow", a.policy.String()),
	)
	return a
}

// attach stores the subscription and cancellation handles. The source may
// already have failed from inside Subscribe; in that case both are released
// here, since termination ran without them.
func (a *Adapter[T]) attach(unsubscribe func(), stopSignal func() bool) {
	a.mu.Lock()
	if a.state == StateTerminated {
		a.mu.Unlock()
		stopSignal()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	a.unsubscribe = unsubscribe
	a.stopSignal = stopSignal
	a.mu.Unlock()
}

// push is the onEvent callback handed to the source.
func (a *Adapter[T]) push(ev T) {
	a.mu.Lock()
	if a.state == StateTerminated {
		a.mu.Unlock()
		metrics.RecordEventsDiscarded(1)
		return
	}
	metrics.RecordEventReceived()

	// Fast path: a parked pull takes the event without touching the buffer.
	if front := a.waiters.Front(); front != nil {
		w := a.waiters.Remove(front).(*waiter[T])
		w.claimed = true
		w.ch <- result[T]{value: ev, ok: true}
		a.mu.Unlock()
		metrics.RecordEventDelivered(metrics.PathDirect)
		return
	}

	if !a.buf.Full() {
		a.buf.Push(ev)
		a.mu.Unlock()
		metrics.AddBufferedEvents(1)
		return
	}

	if a.policy == OverflowThrow {
		finish := a.terminateLocked(ReasonErrored, &OverflowError{MaxQueue: a.maxQueue})
		a.mu.Unlock()
		metrics.RecordErrorByComponent("queue", "overflow")
		finish()
		return
	}

	// Ignore: slide the window, favouring the newest events.
	a.buf.Pop()
	a.buf.Push(ev)
	a.dropped++
	info := OverflowInfo{Adapter: a.name, MaxQueue: a.maxQueue, Dropped: a.dropped}
	a.mu.Unlock()

	metrics.RecordEventDropped()
	if info.Dropped%overflowLogEvery == 1 {
		a.logger.Warn(context.Background(), "watch queue overflow: dropping oldest event",
			logger.Int("max_queue", info.MaxQueue),
			logger.Int64("dropped", info.Dropped),
		)
	}
	if a.onOverflow != nil {
		a.onOverflow(info)
	}
}

// fail is the onError callback handed to the source.
func (a *Adapter[T]) fail(err error) {
	if err == nil {
		err = ErrSource
	} else {
		err = fmt.Errorf("%w: %w", ErrSource, err)
	}
	metrics.RecordErrorByComponent("queue", "source")
	a.terminate(ReasonErrored, err)
}

// Pull returns the next event. ok is false once the adapter has terminated;
// err is then nil for a completed or cancelled adapter and the terminal error
// otherwise. Terminal results repeat on every later call.
//
// When nothing is buffered Pull parks until an event or termination arrives.
// ctx bounds only this call: if it is done first, Pull returns ctx.Err() and
// the adapter keeps running. A cancelled signal always resolves as done,
// even when ctx is that same signal.
func (a *Adapter[T]) Pull(ctx context.Context) (ev T, ok bool, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a.cancelIfSignalled()

	a.mu.Lock()
	if a.state == StateTerminated {
		err = a.err
		a.mu.Unlock()
		return ev, false, err
	}
	if v, popped := a.buf.Pop(); popped {
		a.mu.Unlock()
		metrics.AddBufferedEvents(-1)
		metrics.RecordEventDelivered(metrics.PathBuffered)
		return v, true, nil
	}
	w := &waiter[T]{ch: make(chan result[T], 1), since: time.Now()}
	elem := a.waiters.PushBack(w)
	a.mu.Unlock()

	metrics.AddWaiters(1)
	defer func() {
		metrics.AddWaiters(-1)
		metrics.RecordPullWait(float64(time.Since(w.since).Microseconds()) / 1000)
	}()

	select {
	case r := <-w.ch:
		return r.value, r.ok, r.err
	case <-ctx.Done():
	}

	// The signal's AfterFunc may not have run yet; cancellation must win over
	// the per-call ctx, so terminate here and take the resolution it sends.
	if a.cancelIfSignalled() {
		r := <-w.ch
		return r.value, r.ok, r.err
	}

	a.mu.Lock()
	if !w.claimed {
		a.waiters.Remove(elem)
		a.mu.Unlock()
		return ev, false, ctx.Err()
	}
	a.mu.Unlock()
	// Claimed before we could withdraw: the result is already in flight.
	r := <-w.ch
	return r.value, r.ok, r.err
}

// cancelIfSignalled terminates the adapter as cancelled when its signal is
// done and reports whether it was. An earlier terminal cause is kept.
func (a *Adapter[T]) cancelIfSignalled() bool {
	if a.signal.Err() == nil {
		return false
	}
	a.terminate(ReasonCancelled, nil)
	return true
}

// All returns the adapter as a range-over-func sequence. Leaving the loop
// early, or a done ctx, stops the adapter. A terminal error is yielded once
// as the final element.
func (a *Adapter[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			ev, ok, err := a.Pull(ctx)
			if err != nil {
				if a.State() == StateActive {
					a.Stop()
				}
				yield(ev, err)
				return
			}
			if !ok {
				return
			}
			if !yield(ev, nil) {
				a.Stop()
				return
			}
		}
	}
}

// Stop ends the sequence as completed. Parked pulls resolve as done and the
// subscription is closed before Stop returns. Calling Stop again, or after
// any other termination, has no effect.
func (a *Adapter[T]) Stop() {
	a.terminate(ReasonCompleted, nil)
	<-a.done
}

// Abort ends the sequence with err, rejecting parked pulls with it, and
// returns err. A nil err is replaced by ErrAborted. If the adapter already
// terminated, the original outcome is kept.
func (a *Adapter[T]) Abort(err error) error {
	if err == nil {
		err = ErrAborted
	}
	a.terminate(ReasonErrored, err)
	<-a.done
	return err
}

func (a *Adapter[T]) terminate(reason Reason, err error) {
	a.mu.Lock()
	finish := a.terminateLocked(reason, err)
	a.mu.Unlock()
	finish()
}

// terminateLocked flips the state and returns the work that must run after
// the lock is released: closing the subscription and resolving waiters.
// Only the first call does anything.
func (a *Adapter[T]) terminateLocked(reason Reason, err error) func() {
	if a.state == StateTerminated {
		return func() {}
	}
	a.state = StateTerminated
	a.reason = reason
	a.err = err

	discarded := a.buf.Len()
	a.buf.Clear()

	waiters := make([]*waiter[T], 0, a.waiters.Len())
	for e := a.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter[T])
		w.claimed = true
		waiters = append(waiters, w)
	}
	a.waiters.Init()

	unsubscribe, stopSignal := a.unsubscribe, a.stopSignal
	a.unsubscribe, a.stopSignal = nil, nil

	return func() {
		if stopSignal != nil {
			stopSignal()
		}
		if unsubscribe != nil {
			unsubscribe()
		}
		for _, w := range waiters {
			w.ch <- result[T]{err: err}
		}
		close(a.done)

		metrics.AddActiveAdapters(-1)
		metrics.AddBufferedEvents(-discarded)
		metrics.RecordEventsDiscarded(discarded)
		metrics.RecordTermination(reason.String())

		fields := []logger.Field{
			logger.String("reason", reason.String()),
			logger.Int("discarded", discarded),
			logger.Int("waiters", len(waiters)),
		}
		if err != nil {
			a.logger.Warn(context.Background(), "adapter terminated", append(fields, logger.Error(err))...)
			return
		}
		a.logger.Debug(context.Background(), "adapter terminated", fields...)
	}
}

// Done is closed once the adapter has terminated and released its subscription.
func (a *Adapter[T]) Done() <-chan struct{} { return a.done }

// Name returns the adapter label used in logs.
func (a *Adapter[T]) Name() string { return a.name }

// MaxQueue returns the buffer bound.
func (a *Adapter[T]) MaxQueue() int { return a.maxQueue }

// Policy returns the overflow policy.
func (a *Adapter[T]) Policy() OverflowPolicy { return a.policy }

// State returns the current lifecycle state.
func (a *Adapter[T]) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reason returns why the adapter terminated, or ReasonNone while active.
func (a *Adapter[T]) Reason() Reason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason
}

// Err returns the terminal error, if any.
func (a *Adapter[T]) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Len returns the number of buffered events.
func (a *Adapter[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}

// Waiting returns the number of parked pulls.
func (a *Adapter[T]) Waiting() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waiters.Len()
}

// Dropped returns how many events the ignore policy has dropped.
func (a *Adapter[T]) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
