// Package config defines the daemon configuration and how it is loaded.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/watchq/internal/adapters/mq/queue"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Paths lists the files and directories to watch. Comma separated in env.
	Paths []string `koanf:"paths"`

	// Recursive watches every directory below each path.
	Recursive bool `koanf:"recursive"`

	// MaxQueue bounds the buffer of the main adapter.
	MaxQueue int `koanf:"max_queue"`

	// Overflow is the main adapter's overflow policy: ignore or throw.
	Overflow string `koanf:"overflow"`

	// StreamMaxQueue and StreamOverflow are the defaults for /events clients.
	StreamMaxQueue int    `koanf:"stream_max_queue"`
	StreamOverflow string `koanf:"stream_overflow"`

	// Workers is the number of goroutines draining the main adapter.
	Workers int `koanf:"workers"`

	// ShutdownTimeout bounds graceful shutdown, e.g. "10s".
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		Paths:           []string{"."},
		MaxQueue:        queue.DefaultMaxQueue,
		Overflow:        "ignore",
		StreamMaxQueue:  256,
		StreamOverflow:  "ignore",
		Workers:         1,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate reports the first problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case len(c.Paths) == 0:
		return fmt.Errorf("%w: at least one path is required", ErrInvalidConfig)
	case c.MaxQueue <= 0:
		return fmt.Errorf("%w: max_queue must be positive, got %d", ErrInvalidConfig, c.MaxQueue)
	case c.StreamMaxQueue <= 0:
		return fmt.Errorf("%w: stream_max_queue must be positive, got %d", ErrInvalidConfig, c.StreamMaxQueue)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalidConfig)
	}
	for _, p := range c.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: paths must not contain empty entries", ErrInvalidConfig)
		}
	}
	if _, err := queue.ParseOverflowPolicy(c.Overflow); err != nil {
		return fmt.Errorf("%w: overflow: %w", ErrInvalidConfig, err)
	}
	if _, err := queue.ParseOverflowPolicy(c.StreamOverflow); err != nil {
		return fmt.Errorf("%w: stream_overflow: %w", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// AdapterOptions returns the queue options for the main adapter. Call
// Validate first; an unparsable policy falls back to ignore.
func (c *Config) AdapterOptions() []queue.Option {
	policy, _ := queue.ParseOverflowPolicy(c.Overflow)
	return []queue.Option{
		queue.WithMaxQueue(c.MaxQueue),
		queue.WithOverflowPolicy(policy),
	}
}

// StreamOptions returns the default queue options for stream clients.
func (c *Config) StreamOptions() []queue.Option {
	policy, _ := queue.ParseOverflowPolicy(c.StreamOverflow)
	return []queue.Option{
		queue.WithMaxQueue(c.StreamMaxQueue),
		queue.WithOverflowPolicy(policy),
	}
}
