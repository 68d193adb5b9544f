package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/phrazzld/sift/internal/config"
	"github.com/phrazzld/sift/internal/platform/logger"
	"github.com/phrazzld/sift/internal/platform/sqlite"
	"github.com/phrazzld/sift/internal/sorter"
)

// errUsage is returned for malformed command lines; usage has already been
// printed when it is returned.
var errUsage = errors.New("invalid usage")

const usage = `usage: sift [--config FILE] <command> [arguments]

commands:
  sort      sort files in place (a directory through the pool, or the given files)
  tasks     manage the task queue (add, take, processed, cancelled, status,
            stats, list, free-taken, free-cancelled, free-stale)
  dispatch  claim pending tasks and sort them in parallel
  migrate   manage the task database schema (up, status, version)
  serve     serve the read-only status API
`

// application holds the shared dependencies of every command.
type application struct {
	config *config.Config
	logger *slog.Logger
	stdout io.Writer
}

// initializeApp loads configuration and sets up logging. Log records go to
// stderr so that stdout only carries command output.
func initializeApp(configPath string, stdout, stderr io.Writer) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Log, stderr)
	log.Debug("configuration loaded",
		"store_path", cfg.Store.Path,
		"max_lines", cfg.Sort.MaxLines,
		"max_workers", cfg.Sort.MaxWorkers,
		"order", cfg.Sort.Order)

	return &application{config: cfg, logger: log, stdout: stdout}, nil
}

// run parses global flags and dispatches to a subcommand.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sift", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to a configuration file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errUsage
	}

	commands := map[string]func(*application, context.Context, []string) error{
		"sort":     (*application).sortCommand,
		"tasks":    (*application).tasksCommand,
		"dispatch": (*application).dispatchCommand,
		"migrate":  (*application).migrateCommand,
		"serve":    (*application).serveCommand,
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", rest[0], usage)
		return errUsage
	}

	app, err := initializeApp(*configPath, stdout, stderr)
	if err != nil {
		return err
	}
	return cmd(app, ctx, rest[1:])
}

// newSorter builds a Sorter from the sort configuration.
func (app *application) newSorter() (*sorter.Sorter, error) {
	cfg := app.config.Sort

	order, err := sorter.LookupOrder(cfg.Order)
	if err != nil {
		return nil, err
	}
	return sorter.New(sorter.Config{
		MaxLines:      cfg.MaxLines,
		Order:         order,
		Header:        sorter.NewBanner(cfg.Banner...),
		TempDir:       cfg.TempDir,
		MaxOpenChunks: cfg.MaxOpenChunks,
	}, app.logger)
}

// openStore opens the task database, applying migrations.
func (app *application) openStore(ctx context.Context) (*sqlite.TaskStore, error) {
	return sqlite.Open(ctx, app.storeConfig(), app.logger)
}

func (app *application) storeConfig() sqlite.Config {
	return sqlite.Config{
		Path:        app.config.Store.Path,
		BusyTimeout: app.config.Store.BusyTimeout,
	}
}

// ownedPaths lists the files sift itself manages: the task database with
// its SQLite companions and claim lock, and the loaded configuration file.
// Directory sorts and task discovery never pick them up.
func (app *application) ownedPaths() []string {
	db := app.config.Store.Path
	paths := []string{db, db + "-wal", db + "-shm", db + "-journal", db + ".lock"}
	if app.config.ConfigFile != "" {
		paths = append(paths, app.config.ConfigFile)
	}
	return paths
}

// newFlagSet returns a flag set for a subcommand that reports errors
// instead of exiting.
func (app *application) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %w", errUsage, fs.Name(), err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
