// Package churn generates filesystem activity in a directory so a running
// watchq daemon can be observed under load, including overflow.
package churn

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid churn config")

// Config holds configuration for a churn run.
type Config struct {
	Dir     string        // Directory the files are written to
	Ops     int           // Number of file operations to perform
	Workers int           // Number of concurrent workers
	Payload int           // Bytes written per modification
	Keep    bool          // Leave the generated files behind
	BaseURL string        // Daemon base URL; empty skips the HTTP checks
	Timeout time.Duration // HTTP request timeout
	Settle  time.Duration // Pause before reading daemon stats
	LogFile string        // Log file for run output
	Verbose bool          // Enable verbose logging
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("%w: dir must not be empty", ErrInvalidConfig)
	case c.Ops <= 0:
		return fmt.Errorf("%w: ops must be positive", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Payload < 0:
		return fmt.Errorf("%w: payload must not be negative", ErrInvalidConfig)
	case c.BaseURL != "" && c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Created   int64
	Modified  int64
	Removed   int64
	Failed    int64
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Daemon is the daemon's /stats document, when BaseURL was set.
	Daemon *DaemonStats
}

// Ops returns the number of successful operations.
func (s *Stats) Ops() int64 { return s.Created + s.Modified + s.Removed }

// DaemonStats is the subset of the daemon's /stats document churn reports on.
type DaemonStats struct {
	Processed     int64            `json:"processed"`
	Failed        int64            `json:"failed"`
	StreamClients int64            `json:"stream_clients"`
	EventsByKind  map[string]int64 `json:"events_by_kind"`
	Error         string           `json:"error,omitempty"`
	Adapter       struct {
		State    string `json:"state"`
		Reason   string `json:"reason"`
		MaxQueue int    `json:"max_queue"`
		Overflow string `json:"overflow"`
		Buffered int    `json:"buffered"`
		Dropped  int64  `json:"dropped"`
	} `json:"adapter"`
}
