package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/phrazzld/sift/internal/platform/filelock"
	"github.com/phrazzld/sift/internal/store"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config holds the settings needed to open the task database.
type Config struct {
	// Path is the database file; its directory is created if missing.
	Path string
	// BusyTimeout is how long SQLite waits on a locked database file.
	BusyTimeout time.Duration
	// LockPath is the claim lock file; defaults to Path + ".lock".
	LockPath string
}

func (c Config) lockPath() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return c.Path + ".lock"
}

// dsn builds the driver connection string. Transactions start with
// BEGIN IMMEDIATE so that a writer takes the file lock before reading.
func (c Config) dsn() string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(c.BusyTimeout.Milliseconds()))
	params.Set("_journal_mode", "WAL")
	params.Set("_txlock", "immediate")
	return "file:" + c.Path + "?" + params.Encode()
}

// OpenDB opens (creating if needed) the database file without touching its
// schema. Every failure wraps store.ErrStorageUnavailable.
func OpenDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: empty database path", store.ErrStorageUnavailable)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %w", store.ErrStorageUnavailable, err)
	}

	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", store.ErrStorageUnavailable, cfg.Path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", store.ErrStorageUnavailable, cfg.Path, MapError(err))
	}
	return db, nil
}

// Open opens the database at cfg.Path, applies pending migrations under the
// claim lock and returns a ready TaskStore. Every failure wraps
// store.ErrStorageUnavailable.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*TaskStore, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lock, err := filelock.New(cfg.lockPath())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", store.ErrStorageUnavailable, err)
	}

	err = lock.WithLock(ctx, func() error {
		_, err := Migrate(ctx, db, logger)
		return err
	})
	if err != nil {
		_ = lock.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", store.ErrStorageUnavailable, cfg.Path, MapError(err))
	}

	// One connection per process; other processes are serialized by SQLite's
	// file locking and the claim lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger.Debug("task database opened", "path", cfg.Path, "lock_path", lock.Path())
	return NewTaskStore(db, lock, logger), nil
}

// newProvider builds a goose provider over the embedded migrations.
func newProvider(db *sql.DB) (*goose.Provider, error) {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// Migrate applies all pending migrations and returns the resulting schema version.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	provider, err := newProvider(db)
	if err != nil {
		return 0, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("applied migration",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// MigrationStatus describes one known migration.
type MigrationStatus struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Status lists every embedded migration and whether it has been applied.
func Status(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	provider, err := newProvider(db)
	if err != nil {
		return nil, err
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// Version returns the current schema version; zero means no migration has
// been applied.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newProvider(db)
	if err != nil {
		return 0, err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
