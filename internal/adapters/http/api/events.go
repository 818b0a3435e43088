package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/watchq/internal/adapters/mq/queue"
	"github.com/okian/watchq/pkg/logger"
)

// EventsHandler streams filesystem events as Server-Sent Events. Each request
// gets its own adapter whose cancellation signal is the request context, so a
// disconnecting client releases its watch.
type EventsHandler struct {
	watcher   Watcher
	keepAlive time.Duration
	logger    logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(watcher Watcher, keepAlive time.Duration) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &EventsHandler{
		watcher:   watcher,
		keepAlive: keepAlive,
		logger:    logger.Get().Named("api"),
	}
}

// HandleStream handles GET /events requests.
//
// Query parameters: max_queue (positive int) and overflow (ignore|throw).
// Events are sent with the event kind as SSE event name and the event id as
// SSE id. A terminal error is sent once as an "error" event before the
// stream ends.
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	opts, err := parseStreamOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", ErrStreamingUnsupported)
		return
	}

	ctx := r.Context()
	a := h.watcher.Watch(ctx, opts...)
	defer a.Stop()

	if err := a.Err(); err != nil && errors.Is(err, queue.ErrSubscription) {
		writeError(w, http.StatusServiceUnavailable, errorCode(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.keepAlive.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()

	log := h.logger.With(logger.String("adapter", a.Name()), logger.String("remote", r.RemoteAddr))
	log.Debug(ctx, "stream opened")

	for {
		pullCtx, cancel := context.WithTimeout(ctx, h.keepAlive)
		ev, ok, err := a.Pull(pullCtx)
		cancel()

		switch {
		case err != nil && ctx.Err() != nil:
			log.Debug(ctx, "client went away")
			return
		case errors.Is(err, context.DeadlineExceeded):
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case err != nil:
			log.Warn(ctx, "stream terminated", logger.Error(err))
			_ = writeEvent(w, "error", "", errorResponse{Code: errorCode(err), Message: err.Error()})
			flusher.Flush()
			return
		case !ok:
			return
		default:
			if err := writeEvent(w, string(ev.Kind), ev.ID, ev); err != nil {
				log.Debug(ctx, "write failed", logger.Error(err))
				return
			}
		}
		flusher.Flush()
	}
}

func parseStreamOptions(q url.Values) ([]queue.Option, error) {
	var opts []queue.Option
	if v := q.Get("max_queue"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: max_queue must be a positive integer", ErrBadRequest)
		}
		opts = append(opts, queue.WithMaxQueue(n))
	}
	if v := q.Get("overflow"); v != "" {
		p, err := queue.ParseOverflowPolicy(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		opts = append(opts, queue.WithOverflowPolicy(p))
	}
	return opts, nil
}

func writeEvent(w io.Writer, name, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, queue.ErrOverflow):
		return "overflow"
	case errors.Is(err, queue.ErrSubscription):
		return "subscription_failed"
	case errors.Is(err, queue.ErrSource):
		return "source_error"
	default:
		return "internal"
	}
}
