package fswatch

import (
	"github.com/fsnotify/fsnotify"

	"github.com/okian/watchq/pkg/logger"
)

// AllOps matches every operation fsnotify reports.
const AllOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename | fsnotify.Chmod

// Option applies a configuration option to the Source.
type Option func(*Source)

// WithRecursive watches every directory below each path, including
// directories created after the subscription was opened.
func WithRecursive(recursive bool) Option {
	return func(s *Source) {
		s.recursive = recursive
	}
}

// WithOps restricts forwarded events to those whose operation intersects mask.
// A zero mask is ignored.
func WithOps(mask fsnotify.Op) Option {
	return func(s *Source) {
		if mask != 0 {
			s.ops = mask
		}
	}
}

// WithLogger sets a custom logger for the source.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}
