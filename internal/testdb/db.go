// Package testdb provides utilities specifically for database testing.
// Every helper opens a fresh database file under t.TempDir, so tests can
// run in parallel without sharing state.
package testdb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/sift/internal/platform/logger"
	"github.com/phrazzld/sift/internal/platform/sqlite"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// Path returns a database path inside a per-test temporary directory.
func Path(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "tasks.db")
}

// OpenStore opens a migrated task store on a fresh database file and
// registers its cleanup.
func OpenStore(t *testing.T) *sqlite.TaskStore {
	t.Helper()
	return OpenStoreAt(t, Path(t))
}

// OpenStoreAt opens a task store on path. Calling it twice with the same
// path yields two independent handles, as two processes would have.
func OpenStoreAt(t *testing.T, path string) *sqlite.TaskStore {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	_, log := logger.SetupTestLogger(t)
	s, err := sqlite.Open(ctx, sqlite.Config{
		Path:        path,
		BusyTimeout: TestTimeout,
	}, log)
	require.NoError(t, err, "Failed to open task store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("Warning: failed to close task store: %v", err)
		}
	})
	return s
}

// WithTx executes a test function within a transaction, automatically rolling back
// after the test completes.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err, "Failed to begin transaction")

	defer func() {
		err := tx.Rollback()
		// sql.ErrTxDone is expected if tx is already committed or rolled back
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	fn(t, tx)
}
