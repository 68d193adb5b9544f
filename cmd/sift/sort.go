package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/sift/internal/sortpool"
)

// sortCommand sorts the given files, or every file under the base
// directory when none are given.
func (app *application) sortCommand(ctx context.Context, args []string) error {
	cfg := &app.config.Sort

	fs := app.newFlagSet("sort")
	fs.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "directory to sort recursively")
	fs.IntVar(&cfg.MaxLines, "max-lines", cfg.MaxLines, "lines held in memory per chunk")
	fs.IntVar(&cfg.MaxWorkers, "workers", cfg.MaxWorkers, "files sorted concurrently")
	fs.StringVar(&cfg.Order, "order", cfg.Order, "sort order: bytewise, casefold or domain")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s, err := app.newSorter()
	if err != nil {
		return err
	}
	pool := sortpool.New(sortpool.Config{
		MaxWorkers:    cfg.MaxWorkers,
		ExcludedDirs:  cfg.ExcludedDirs,
		ExcludedFiles: cfg.ExcludedFiles,
		ExcludedPaths: app.ownedPaths(),
	}, s, app.logger)

	var summary sortpool.Summary
	switch {
	case fs.NArg() > 0:
		summary, err = pool.SortFiles(ctx, fs.Args())
	case cfg.BaseDir != "":
		summary, err = pool.Run(ctx, cfg.BaseDir)
	default:
		return fmt.Errorf("%w: sort needs files or --base-dir", errUsage)
	}

	fmt.Fprintf(app.stdout, "files=%d sorted=%d failed=%d\n", summary.Files, summary.Sorted, summary.Failed)
	if err != nil {
		return errors.Join(fmt.Errorf("%d of %d files failed", summary.Failed, summary.Files), err)
	}
	return nil
}
