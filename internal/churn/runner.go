package churn

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/watchq/pkg/logger"
)

// Run executes a churn run and returns its statistics. When cfg.BaseURL is set
// the daemon's health is checked first and its stats are read afterwards.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting churn run",
		logger.String("dir", cfg.Dir),
		logger.Int("ops", cfg.Ops),
		logger.Int("workers", cfg.Workers),
		logger.Int("payload", cfg.Payload),
		logger.String("baseURL", cfg.BaseURL),
		logger.Bool("keep", cfg.Keep))

	// Step 1: Check daemon health
	if cfg.BaseURL != "" {
		if err := checkDaemonHealth(ctx, cfg); err != nil {
			return nil, fmt.Errorf("daemon health check failed: %w", err)
		}
	}

	// Step 2: Generate file activity
	if err := generate(ctx, cfg, stats); err != nil {
		return stats, fmt.Errorf("generation failed: %w", err)
	}
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	// Step 3: Let the daemon drain, then read its stats
	if cfg.BaseURL != "" {
		if cfg.Settle > 0 {
			logger.Get().Info(ctx, "waiting for events to be processed", logger.Duration("settle", cfg.Settle))
			select {
			case <-time.After(cfg.Settle):
			case <-ctx.Done():
				return stats, fmt.Errorf("context cancelled while settling: %w", ctx.Err())
			}
		}
		ds, err := fetchDaemonStats(ctx, cfg)
		if err != nil {
			return stats, fmt.Errorf("daemon stats retrieval failed: %w", err)
		}
		stats.Daemon = ds
	}

	displayFinalStats(ctx, stats)
	logger.Get().Info(ctx, "churn run completed")
	return stats, nil
}

// displayFinalStats logs the run summary.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, opsPerSecond float64
	if total := stats.Ops() + stats.Failed; total > 0 {
		successRate = float64(stats.Ops()) / float64(total) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		opsPerSecond = float64(stats.Ops()) / stats.Duration.Seconds()
	}

	fields := []logger.Field{
		logger.Int64("created", stats.Created),
		logger.Int64("modified", stats.Modified),
		logger.Int64("removed", stats.Removed),
		logger.Int64("failed", stats.Failed),
		logger.String("duration", stats.Duration.String()),
		logger.Any("successRate", successRate),
		logger.Any("opsPerSecond", opsPerSecond),
	}
	if ds := stats.Daemon; ds != nil {
		fields = append(fields,
			logger.Int64("daemonProcessed", ds.Processed),
			logger.Int64("daemonDropped", ds.Adapter.Dropped),
			logger.String("daemonState", ds.Adapter.State),
			logger.String("daemonReason", ds.Adapter.Reason),
		)
		if ds.Error != "" {
			fields = append(fields, logger.String("daemonError", ds.Error))
		}
	}
	logger.Get().Info(ctx, "final statistics", fields...)
}
