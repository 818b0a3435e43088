package queue

import (
	"fmt"
	"strings"
)

// OverflowPolicy decides what happens when an event arrives on a full buffer
// with nobody waiting for it.
type OverflowPolicy int

const (
	// OverflowIgnore drops the oldest buffered event and keeps the new one.
	OverflowIgnore OverflowPolicy = iota
	// OverflowThrow terminates the adapter with an *OverflowError.
	OverflowThrow
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowIgnore:
		return "ignore"
	case OverflowThrow:
		return "throw"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy accepts "ignore" (or empty) and "throw", case-insensitive.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return OverflowIgnore, nil
	case "throw":
		return OverflowThrow, nil
	default:
		return OverflowIgnore, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}
