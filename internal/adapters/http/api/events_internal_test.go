package api

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/okian/watchq/internal/adapters/mq/queue"
)

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"overflow":            &queue.OverflowError{MaxQueue: 1},
		"subscription_failed": fmt.Errorf("%w: denied", queue.ErrSubscription),
		"source_error":        fmt.Errorf("%w: gone", queue.ErrSource),
		"internal":            errors.New("other"),
	}
	for want, err := range cases {
		if got := errorCode(err); got != want {
			t.Errorf("errorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestParseStreamOptions(t *testing.T) {
	opts, err := parseStreamOptions(url.Values{})
	if err != nil || len(opts) != 0 {
		t.Fatalf("expected no options, got %d (%v)", len(opts), err)
	}

	opts, err = parseStreamOptions(url.Values{"max_queue": {"3"}, "overflow": {"THROW"}})
	if err != nil || len(opts) != 2 {
		t.Fatalf("expected two options, got %d (%v)", len(opts), err)
	}

	if _, err := parseStreamOptions(url.Values{"max_queue": {"-1"}}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, err := parseStreamOptions(url.Values{"overflow": {"nope"}}); !errors.Is(err, queue.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
