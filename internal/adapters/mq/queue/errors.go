package queue

import (
	"errors"
	"fmt"
)

// Sentinel kinds for adapter errors. Wrapped errors keep the underlying cause,
// so callers can match both the kind and the cause with errors.Is.
var (
	ErrSubscription  = errors.New("watch subscription failed")
	ErrSource        = errors.New("watch source failed")
	ErrOverflow      = errors.New("watch queue overflow")
	ErrAborted       = errors.New("watch aborted")
	ErrInvalidPolicy = errors.New("invalid overflow policy")
)

// OverflowError terminates an adapter running the throw policy.
type OverflowError struct {
	MaxQueue int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("watch queue overflow: more than %d events queued", e.MaxQueue)
}

// Is lets errors.Is(err, ErrOverflow) match.
func (e *OverflowError) Is(target error) bool {
	return target == ErrOverflow
}
