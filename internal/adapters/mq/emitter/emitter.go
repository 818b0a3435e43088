// Package emitter provides an in-process broadcast event source.
//
// An Emitter fans every emitted value out to all current subscribers by
// calling their callbacks synchronously on the emitting goroutine. It
// satisfies queue.Source, so each subscriber is typically a queue.Adapter.
// The worker, service and HTTP tests use it to drive adapters without a
// filesystem.
package emitter

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("emitter closed")

type subscriber[T any] struct {
	onEvent func(T)
	onError func(error)
}

// Emitter is a broadcast source. The zero value is not usable; call New.
type Emitter[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
}

// New creates an open Emitter with no subscribers.
func New[T any]() *Emitter[T] {
	return &Emitter[T]{subs: make(map[uint64]*subscriber[T])}
}

// Subscribe registers callbacks. The returned function removes them and is
// safe to call more than once, including from inside a callback.
func (e *Emitter[T]) Subscribe(onEvent func(T), onError func(error)) (func(), error) {
	if onEvent == nil {
		return nil, errors.New("emitter: nil event callback")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = &subscriber[T]{onEvent: onEvent, onError: onError}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}, nil
}

// Emit delivers v to every subscriber and returns how many received it.
func (e *Emitter[T]) Emit(v T) int {
	subs := e.snapshot()
	for _, s := range subs {
		s.onEvent(v)
	}
	return len(subs)
}

// Fail reports err to every subscriber and detaches them all, since a source
// that has failed delivers no further events to them.
func (e *Emitter[T]) Fail(err error) int {
	e.mu.Lock()
	subs := make([]*subscriber[T], 0, len(e.subs))
	for id, s := range e.subs {
		subs = append(subs, s)
		delete(e.subs, id)
	}
	e.mu.Unlock()

	for _, s := range subs {
		if s.onError != nil {
			s.onError(err)
		}
	}
	return len(subs)
}

// Close rejects future subscriptions. Existing subscribers stay attached
// until they unsubscribe.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Subscribers returns the number of attached subscribers.
func (e *Emitter[T]) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Emitter[T]) snapshot() []*subscriber[T] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	subs := make([]*subscriber[T], 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	return subs
}
