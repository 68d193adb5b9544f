package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/sift/internal/platform/filelock"
	"github.com/phrazzld/sift/internal/platform/logger"
	"github.com/phrazzld/sift/internal/store"
	"github.com/phrazzld/sift/internal/task"
)

const taskColumns = `name, status, detail, "begin", end_process`

// TaskStore implements the task.Store interface using SQLite.
//
// Every mutating operation runs inside the claim lock and a transaction, so
// read-then-write sequences such as Take appear atomic to other goroutines
// and to other processes opening the same database file.
type TaskStore struct {
	db     *sql.DB
	lock   *filelock.Lock
	logger *slog.Logger
	now    func() time.Time
}

var _ task.Store = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore over an already migrated database.
// lock guards the mutating critical sections and is closed by Close.
func NewTaskStore(db *sql.DB, lock *filelock.Lock, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		db:     db,
		lock:   lock,
		logger: logger.With("component", "task_store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying database handle.
func (s *TaskStore) DB() *sql.DB {
	return s.db
}

// Close releases the claim lock file and the database.
func (s *TaskStore) Close() error {
	return errors.Join(s.lock.Close(), s.db.Close())
}

// mutate runs fn in a transaction while holding the claim lock.
func (s *TaskStore) mutate(ctx context.Context, fn store.TxFn) error {
	return s.lock.WithLock(ctx, func() error {
		return store.RunInTransaction(ctx, s.db, fn)
	})
}

// Add inserts a new PENDING task.
func (s *TaskStore) Add(ctx context.Context, name, detail string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if strings.TrimSpace(name) == "" {
		return store.NewStoreError("task", "add", "name is required", store.ErrInvalidEntity)
	}

	err := s.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task (name, status, detail, "begin") VALUES (?, ?, ?, ?)`,
			name, task.StatusPending, detail, s.now(),
		)
		return err
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", store.ErrTaskExists, name)
		}
		log.Error("failed to add task", "task", name, "error", err)
		return fmt.Errorf("failed to add task %q: %w", name, MapError(err))
	}

	log.Debug("task added", "task", name)
	return nil
}

// AddMany inserts every new name in a single transaction. Existing names
// and blank names are skipped.
func (s *TaskStore) AddMany(ctx context.Context, names []string, detail string) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	added := 0
	err := s.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO task (name, status, detail, "begin") VALUES (?, ?, ?, ?)
			 ON CONFLICT (name) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := s.now()
		for _, name := range names {
			if strings.TrimSpace(name) == "" {
				continue
			}
			result, err := stmt.ExecContext(ctx, name, task.StatusPending, detail, now)
			if err != nil {
				return err
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to add tasks", "count", len(names), "error", err)
		return 0, fmt.Errorf("failed to add tasks: %w", MapError(err))
	}

	log.Debug("tasks added", "requested", len(names), "added", added)
	return added, nil
}

// Take claims the oldest PENDING task. ok is false when none is pending.
func (s *TaskStore) Take(ctx context.Context, detail string) (string, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var name string
	var ok bool
	err := s.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT name FROM task WHERE status = ? ORDER BY "begin", name LIMIT 1`,
			task.StatusPending,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE task SET status = ?, "begin" = ?, detail = ? WHERE name = ? AND status = ?`,
			task.StatusTaken, s.now(), detail, name, task.StatusPending,
		)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			// Unreachable while every writer holds the claim lock.
			return fmt.Errorf("task %q was claimed concurrently", name)
		}
		ok = true
		return nil
	})
	if err != nil {
		log.Error("failed to take task", "error", err)
		return "", false, fmt.Errorf("failed to take task: %w", MapError(err))
	}

	if ok {
		log.Debug("task taken", "task", name)
	}
	return name, ok, nil
}

// Processed moves a TAKEN task to PROCESSED.
func (s *TaskStore) Processed(ctx context.Context, name, detail string) error {
	return s.finish(ctx, "processed", name, detail, task.StatusProcessed, task.StatusTaken)
}

// Cancelled moves a PENDING or TAKEN task to CANCELLED.
func (s *TaskStore) Cancelled(ctx context.Context, name, detail string) error {
	return s.finish(ctx, "cancelled", name, detail, task.StatusCancelled, task.StatusPending, task.StatusTaken)
}

// finish applies a terminal transition after checking the current status
// against from.
func (s *TaskStore) finish(ctx context.Context, op, name, detail string, to task.Status, from ...task.Status) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	err := s.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row, err := selectTask(ctx, tx, name)
		if err != nil {
			return err
		}
		current := row.Status

		allowed := false
		for _, st := range from {
			if current == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %q is %s, cannot become %s", store.ErrInvalidTransition, name, current, to)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE task SET status = ?, end_process = ?, detail = ? WHERE name = ?`,
			to, s.now(), detail, name,
		)
		if err != nil {
			return err
		}
		return CheckRowsAffected(result, name)
	})
	if err != nil {
		if store.IsNotFoundError(err) || errors.Is(err, store.ErrInvalidTransition) {
			log.Warn("rejected task transition", "task", name, "operation", op, "error", err)
			return err
		}
		log.Error("failed to update task status", "task", name, "operation", op, "error", err)
		return fmt.Errorf("failed to mark task %q %s: %w", name, op, MapError(err))
	}

	log.Debug("task finished", "task", name, "status", to)
	return nil
}

// GetStatus returns the task named name.
func (s *TaskStore) GetStatus(ctx context.Context, name string) (task.Task, error) {
	t, err := selectTask(ctx, s.db, name)
	if err != nil {
		if store.IsNotFoundError(err) {
			return task.Task{}, err
		}
		return task.Task{}, fmt.Errorf("failed to get task %q: %w", name, MapError(err))
	}
	return t, nil
}

// selectTask reads one row through either the database or a transaction.
func selectTask(ctx context.Context, q store.DBTX, name string) (task.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task WHERE name = ?`, name)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: %q", store.ErrTaskNotFound, name)
	}
	return t, err
}

// GetStats counts tasks per status.
func (s *TaskStore) GetStats(ctx context.Context) (task.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query task stats: %w", MapError(err))
	}
	defer rows.Close()

	stats := task.Stats{}
	for rows.Next() {
		var status task.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task stats: %w", err)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task stats: %w", err)
	}
	return stats, nil
}

// ListAll returns the tasks matching filter ordered by name.
func (s *TaskStore) ListAll(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task`
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY name`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", MapError(err))
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// FreeTaken resets every TAKEN task to PENDING.
func (s *TaskStore) FreeTaken(ctx context.Context) (int, error) {
	return s.reset(ctx, "free_taken",
		`UPDATE task SET status = ?, end_process = NULL WHERE status = ?`,
		task.StatusPending, task.StatusTaken)
}

// FreeCancelled resets every CANCELLED task to PENDING.
func (s *TaskStore) FreeCancelled(ctx context.Context) (int, error) {
	return s.reset(ctx, "free_cancelled",
		`UPDATE task SET status = ?, end_process = NULL WHERE status = ?`,
		task.StatusPending, task.StatusCancelled)
}

// FreeStale resets TAKEN tasks whose claim is older than olderThan.
func (s *TaskStore) FreeStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.reset(ctx, "free_stale",
		`UPDATE task SET status = ?, end_process = NULL WHERE status = ? AND "begin" < ?`,
		task.StatusPending, task.StatusTaken, s.now().Add(-olderThan))
}

func (s *TaskStore) reset(ctx context.Context, op, query string, args ...any) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var n int64
	err := s.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		log.Error("failed to reset tasks", "operation", op, "error", err)
		return 0, fmt.Errorf("failed to %s: %w", strings.ReplaceAll(op, "_", " "), MapError(err))
	}

	if n > 0 {
		log.Info("tasks reset to pending", "operation", op, "count", n)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var t task.Task
	var detail sql.NullString
	var begin, end sql.NullTime

	if err := row.Scan(&t.Name, &t.Status, &detail, &begin, &end); err != nil {
		return task.Task{}, err
	}

	t.Detail = detail.String
	if begin.Valid {
		b := begin.Time
		t.Begin = &b
	}
	if end.Valid {
		e := end.Time
		t.EndProcess = &e
	}
	return t, nil
}
