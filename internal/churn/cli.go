package churn

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/watchq/pkg/logger"
)

// SetupLogging configures logging to both console and file and returns a
// function closing the file. If logFile is empty, a timestamped filename is
// generated.
func SetupLogging(logFile string, verbose bool) (func() error, error) {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "churn_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.InitWithWriter(io.MultiWriter(os.Stdout, file)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		if err := logger.SetLevelString("debug"); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file.Close, nil
}

// ShowHelp prints usage information for the churn tool.
func ShowHelp() {
	os.Stdout.WriteString(`watchq churn tool
=================

Generates concurrent file activity in a directory watched by watchq, to
observe ordering, backpressure and overflow behaviour.

Usage:
  go run ./cmd/churn [options]

Options:
  -dir string
        Directory to churn (default "./churn")
  -ops int
        Number of file operations (create, modify, remove) (default 30000)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -payload int
        Bytes appended per modification (default 64)
  -keep
        Leave generated files behind; removes become modifications
  -url string
        Base URL of the daemon; empty skips health and stats checks
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        Pause before reading daemon stats (default 2s)
  -log string
        Log file for run output (default: churn_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Churn the default directory without talking to the daemon
  go run ./cmd/churn -url ""

  # Push a daemon with max_queue=64 into overflow
  go run ./cmd/churn -dir /tmp/watched -ops 100000 -workers 32 -url http://localhost:9080
`)
}
