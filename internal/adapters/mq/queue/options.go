package queue

import "github.com/okian/watchq/pkg/logger"

// DefaultMaxQueue bounds the buffer when WithMaxQueue is not given.
const DefaultMaxQueue = 2048

// OverflowInfo is passed to the overflow handler each time the ignore policy drops an event.
type OverflowInfo struct {
	Adapter  string
	MaxQueue int
	Dropped  int64 // total dropped by this adapter so far
}

type settings struct {
	maxQueue   int
	policy     OverflowPolicy
	name       string
	logger     logger.Logger
	onOverflow func(OverflowInfo)
}

// Option applies a configuration option to an Adapter.
type Option func(*settings)

// WithMaxQueue sets the maximum number of buffered events. Non-positive values are ignored.
func WithMaxQueue(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxQueue = n
		}
	}
}

// WithOverflowPolicy selects the policy applied when the buffer is full.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(s *settings) {
		if p == OverflowIgnore || p == OverflowThrow {
			s.policy = p
		}
	}
}

// WithName labels the adapter in logs. Defaults to a random id.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets a custom logger for the adapter.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOverflowHandler registers a diagnostic callback for dropped events. It
// runs on the producer's goroutine and must not block. The handler sees every
// drop; the warning log only fires on the first drop and every 1024th after.
func WithOverflowHandler(fn func(OverflowInfo)) Option {
	return func(s *settings) {
		s.onOverflow = fn
	}
}
