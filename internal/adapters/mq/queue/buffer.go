package queue

import "github.com/emirpasic/gods/queues/circularbuffer"

// buffer is a typed view over a fixed-size ring.
type buffer[T any] struct {
	ring *circularbuffer.Queue
}

func newBuffer[T any](capacity int) *buffer[T] {
	return &buffer[T]{ring: circularbuffer.New(capacity)}
}

func (b *buffer[T]) Len() int   { return b.ring.Size() }
func (b *buffer[T]) Full() bool { return b.ring.Full() }
func (b *buffer[T]) Push(v T)   { b.ring.Enqueue(v) }
func (b *buffer[T]) Clear()     { b.ring.Clear() }

func (b *buffer[T]) Pop() (T, bool) {
	v, ok := b.ring.Dequeue()
	if !ok {
		var zero T
		return zero, false
	}
	// A nil interface value comes back untyped.
	t, _ := v.(T)
	return t, true
}
