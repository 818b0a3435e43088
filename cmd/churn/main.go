package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/watchq/internal/churn"
)

// Default configuration constants.
const (
	defaultOps        = 30000
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultPayload    = 64
	defaultTimeout    = 10 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		dir     = flag.String("dir", "./churn", "Directory to churn")
		ops     = flag.Int("ops", defaultOps, "Number of file operations")
		workers = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		payload = flag.Int("payload", defaultPayload, "Bytes appended per modification")
		keep    = flag.Bool("keep", false, "Leave generated files behind")
		baseURL = flag.String("url", "http://localhost:9080", "Base URL of the daemon; empty skips HTTP checks")
		timeout = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle  = flag.Duration("settle", churn.DefaultSettle, "Pause before reading daemon stats")
		logFile = flag.String("log", "", "Log file for run output (default: churn_log_TIMESTAMP.log)")
		verbose = flag.Bool("verbose", false, "Enable verbose logging")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		churn.ShowHelp()
		return 0
	}

	closeLog, err := churn.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &churn.Config{
		Dir:     *dir,
		Ops:     *ops,
		Workers: *workers,
		Payload: *payload,
		Keep:    *keep,
		BaseURL: *baseURL,
		Timeout: *timeout,
		Settle:  *settle,
		LogFile: *logFile,
		Verbose: *verbose,
	}

	if _, err := churn.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Churn failed: " + err.Error() + "\n")
		return 1
	}
	return 0
}
