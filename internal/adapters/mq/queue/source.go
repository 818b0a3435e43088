package queue

// Source is the producer side of an adapter. Subscribe registers callbacks and
// returns the function that closes the subscription.
//
// onEvent may be called any number of times, from any goroutine, until
// unsubscribe is called. onError is called at most once and means no further
// events will follow. If Subscribe itself fails, no callback is ever invoked.
type Source[T any] interface {
	Subscribe(onEvent func(T), onError func(error)) (unsubscribe func(), err error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc[T any] func(onEvent func(T), onError func(error)) (func(), error)

// Subscribe calls f.
func (f SourceFunc[T]) Subscribe(onEvent func(T), onError func(error)) (func(), error) {
	return f(onEvent, onError)
}
