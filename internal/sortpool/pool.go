// Package sortpool runs a file sorter over every file below a directory
// with a bounded number of concurrent workers.
package sortpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phrazzld/sift/internal/sorter"
	"golang.org/x/sync/errgroup"
)

// ErrDuplicatePath is returned when one path is submitted twice.
var ErrDuplicatePath = errors.New("duplicate path submitted to sort pool")

// FileSorter sorts one file in place.
type FileSorter interface {
	Sort(ctx context.Context, path string) (sorter.Result, error)
}

// Config controls a Pool.
type Config struct {
	MaxWorkers    int
	ExcludedDirs  []string
	ExcludedFiles []string
	// ExcludedPaths are files never sorted, such as the task database.
	ExcludedPaths []string
}

// Summary counts the outcome of one Run.
type Summary struct {
	Files  int
	Sorted int
	Failed int
}

// Pool sorts discovered files concurrently.
type Pool struct {
	cfg    Config
	sorter FileSorter
	logger *slog.Logger
}

// New returns a Pool. MaxWorkers below one is treated as one.
func New(cfg Config, s FileSorter, logger *slog.Logger) *Pool {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	return &Pool{
		cfg:    cfg,
		sorter: s,
		logger: logger.With("component", "sort_pool"),
	}
}

// Run sorts every file Discover finds under baseDir.
func (p *Pool) Run(ctx context.Context, baseDir string) (Summary, error) {
	files, err := Discover(baseDir, p.cfg.ExcludedDirs, p.cfg.ExcludedFiles, p.cfg.ExcludedPaths...)
	if err != nil {
		return Summary{}, err
	}
	return p.SortFiles(ctx, files)
}

// SortFiles sorts the given files, at most MaxWorkers at a time. Every
// submitted sort runs to completion; the first error is returned once all
// of them have finished. Files sorted before a failure stay sorted.
// Duplicate paths are rejected because two sorts of one file would race.
func (p *Pool) SortFiles(ctx context.Context, files []string) (Summary, error) {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f]; dup {
			return Summary{}, fmt.Errorf("%w: %s", ErrDuplicatePath, f)
		}
		seen[f] = struct{}{}
	}

	start := time.Now()
	p.logger.Info("sorting files", "files", len(files), "max_workers", p.cfg.MaxWorkers)

	var sorted, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.MaxWorkers)

	for _, path := range files {
		g.Go(func() error {
			if _, err := p.sorter.Sort(ctx, path); err != nil {
				failed.Add(1)
				p.logger.Error("failed to sort file", "path", path, "error", err)
				return fmt.Errorf("sort %s: %w", path, err)
			}
			sorted.Add(1)
			return nil
		})
	}
	err := g.Wait()

	sum := Summary{Files: len(files), Sorted: int(sorted.Load()), Failed: int(failed.Load())}
	p.logger.Info("sort pool finished",
		"files", sum.Files,
		"sorted", sum.Sorted,
		"failed", sum.Failed,
		"duration", time.Since(start))
	return sum, err
}
