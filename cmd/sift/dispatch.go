package main

import (
	"context"
	"fmt"

	"github.com/phrazzld/sift/internal/sorter"
	"github.com/phrazzld/sift/internal/task"
)

// dispatchCommand treats every pending task name as a file path and sorts
// it, until no task is pending or after a single round with --once.
func (app *application) dispatchCommand(ctx context.Context, args []string) error {
	cfg := app.config.Dispatch

	fs := app.newFlagSet("dispatch")
	once := fs.Bool("once", false, "process a single round of batches")
	fs.IntVar(&cfg.WorkersCount, "workers", cfg.WorkersCount, "parallel executors (0 for one per CPU)")
	fs.IntVar(&cfg.FilesPerPool, "files-per-pool", cfg.FilesPerPool, "tasks claimed per executor")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s, err := app.newSorter()
	if err != nil {
		return err
	}
	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	d := task.NewDispatcher(store, task.DispatcherConfig{
		WorkersCount: cfg.WorkersCount,
		FilesPerPool: cfg.FilesPerPool,
		QueueSize:    cfg.QueueSize,
		StaleAfter:   app.config.Store.StaleAfter,
	}, app.logger)

	rounds := 0
	for {
		worked, err := d.Process(ctx, sortBatch(s))
		if err != nil {
			return fmt.Errorf("dispatch round %d: %w", rounds+1, err)
		}
		if !worked {
			break
		}
		rounds++
		if *once || ctx.Err() != nil {
			break
		}
	}

	app.logger.Info("dispatch finished", "rounds", rounds, "failed_batches", d.FailedBatches())
	fmt.Fprintf(app.stdout, "rounds=%d\n", rounds)
	return ctx.Err()
}

// sortBatch returns a WorkFunc that sorts each task name as a file. A file
// that fails to sort is cancelled with the error as detail; the batch
// itself keeps going.
func sortBatch(s *sorter.Sorter) task.WorkFunc {
	return func(ctx context.Context, b *task.Batch) error {
		for _, name := range b.Names {
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := s.Sort(ctx, name)
			if err != nil {
				if cerr := b.Cancelled(ctx, name, err.Error()); cerr != nil {
					return cerr
				}
				continue
			}
			detail := fmt.Sprintf("lines=%d chunks=%d", res.Lines, res.Chunks)
			if err := b.Processed(ctx, name, detail); err != nil {
				return err
			}
		}
		return nil
	}
}
