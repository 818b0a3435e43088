// Package fswatch adapts fsnotify to queue.Source so filesystem changes can be
// pulled through a bounded adapter.
package fswatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/okian/watchq/internal/domain/model"
	"github.com/okian/watchq/pkg/logger"
	"github.com/okian/watchq/pkg/metrics"
)

// Source watches a fixed set of paths. Every Subscribe opens an independent
// fsnotify watcher, so one Source can feed any number of adapters.
type Source struct {
	paths     []string
	recursive bool
	ops       fsnotify.Op
	logger    logger.Logger
}

// New creates a Source for paths. Nothing is watched until Subscribe.
func New(paths []string, opts ...Option) *Source {
	s := &Source{
		paths:  slices.Clone(paths),
		ops:    AllOps,
		logger: logger.Get().Named("fswatch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Paths returns the watched roots.
func (s *Source) Paths() []string { return slices.Clone(s.paths) }

// Recursive reports whether subdirectories are watched.
func (s *Source) Recursive() bool { return s.recursive }

// Subscribe opens a watcher on every path and starts forwarding events. It
// fails if any path cannot be watched, in which case nothing is left open.
func (s *Source) Subscribe(onEvent func(model.Event), onError func(error)) (func(), error) {
	if onEvent == nil {
		return nil, ErrNilCallback
	}
	if len(s.paths) == 0 {
		return nil, ErrNoPaths
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	sub := &subscription{
		source:  s,
		watcher: w,
		onEvent: onEvent,
		onError: onError,
		done:    make(chan struct{}),
	}
	for _, p := range s.paths {
		if err := sub.add(p); err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	go sub.forward()
	s.logger.Debug(context.Background(), "watch opened",
		logger.Any("paths", s.paths),
		logger.Bool("recursive", s.recursive),
		logger.Int("watches", len(w.WatchList())),
	)
	return sub.close, nil
}

type subscription struct {
	source  *Source
	watcher *fsnotify.Watcher
	onEvent func(model.Event)
	onError func(error)

	done      chan struct{}
	closeOnce sync.Once
	errOnce   sync.Once
}

// add watches path, and every directory below it when recursive.
func (s *subscription) add(path string) error {
	if !s.source.recursive {
		if err := s.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		if p != path && !d.IsDir() {
			return nil
		}
		if err := s.watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// close stops forwarding and releases the watcher. It may run on the
// forwarding goroutine itself, from inside onEvent.
func (s *subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.watcher.Close(); err != nil {
			s.source.logger.Warn(context.Background(), "closing watcher failed", logger.Error(err))
		}
		s.source.logger.Debug(context.Background(), "watch closed")
	})
}

func (s *subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) forward() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// The kernel dropped events; the watch itself is still healthy.
				metrics.RecordErrorByComponent("fswatch", "kernel_overflow")
				s.source.logger.Warn(context.Background(), "kernel event queue overflowed", logger.Error(err))
				continue
			}
			s.fail(err)
			return
		}
	}
}

func (s *subscription) handle(ev fsnotify.Event) {
	if s.source.recursive && ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := s.add(ev.Name); err != nil {
				s.source.logger.Warn(context.Background(), "watching new directory failed",
					logger.String("path", ev.Name), logger.Error(err))
			}
		}
	}
	if ev.Op&s.source.ops == 0 || s.closed() {
		return
	}
	s.onEvent(toModel(ev, time.Now()))
}

func (s *subscription) fail(err error) {
	s.errOnce.Do(func() {
		metrics.RecordErrorByComponent("fswatch", "watcher")
		if s.onError != nil && !s.closed() {
			s.onError(err)
		}
	})
}

// toModel maps an fsnotify event onto the two kinds the watch API reports.
func toModel(ev fsnotify.Event, ts time.Time) model.Event {
	kind := model.KindChange
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		kind = model.KindRename
	}
	return model.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Subject: ev.Name,
		Op:      ev.Op.String(),
		TS:      ts,
	}
}
