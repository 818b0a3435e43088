package churn

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/watchq/pkg/logger"
)

type counters struct {
	created  atomic.Int64
	modified atomic.Int64
	removed  atomic.Int64
	failed   atomic.Int64
}

// generate spreads cfg.Ops file operations over cfg.Workers goroutines.
// Failed operations are counted, not returned; only cancellation aborts the run.
func generate(ctx context.Context, cfg *Config, stats *Stats) error {
	if err := os.MkdirAll(cfg.Dir, directoryPermission); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	workerCount := min(cfg.Workers, cfg.Ops)
	opsPerWorker := cfg.Ops / workerCount

	logger.Get().Info(ctx, "generating file activity",
		logger.String("dir", cfg.Dir),
		logger.Int("ops", cfg.Ops),
		logger.Int("workers", workerCount))

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < workerCount; worker++ {
		n := opsPerWorker
		if worker == workerCount-1 {
			n = cfg.Ops - opsPerWorker*(workerCount-1) // Last worker gets remaining ops
		}
		g.Go(func() error { return churnFiles(gctx, cfg, n, &c) })
	}
	err := g.Wait()

	stats.Created = c.created.Load()
	stats.Modified = c.modified.Load()
	stats.Removed = c.removed.Load()
	stats.Failed = c.failed.Load()
	if err != nil {
		return fmt.Errorf("context cancelled during generation: %w", err)
	}
	return nil
}

// churnFiles performs n operations, cycling create, modify and remove on a
// fresh uuid-named file. With cfg.Keep the remove step modifies again.
func churnFiles(ctx context.Context, cfg *Config, n int, c *counters) error {
	payload := bytes.Repeat([]byte{'x'}, cfg.Payload)
	var path string

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch i % opsPerCycle {
		case 0:
			path = filepath.Join(cfg.Dir, filePrefix+uuid.NewString()+fileSuffix)
			if err = os.WriteFile(path, nil, filePermission); err == nil {
				c.created.Add(1)
			}
		case 1:
			if err = appendFile(path, payload); err == nil {
				c.modified.Add(1)
			}
		default:
			if cfg.Keep {
				if err = appendFile(path, payload); err == nil {
					c.modified.Add(1)
				}
				break
			}
			if err = os.Remove(path); err == nil {
				c.removed.Add(1)
			}
		}

		if err != nil {
			c.failed.Add(1)
			if cfg.Verbose {
				logger.Get().Debug(ctx, "file operation failed", logger.String("path", path), logger.Error(err))
			}
		}
	}
	return nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, filePermission)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
