package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/sift/internal/platform/logger"
	"github.com/phrazzld/sift/internal/store"
	"github.com/phrazzld/sift/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *TaskStore {
	t.Helper()

	_, log := logger.SetupTestLogger(t)
	s, err := Open(context.Background(), Config{Path: path, BusyTimeout: 5 * time.Second}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T) *TaskStore {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "tasks.db"))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates_missing_directory", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "nested", "dir", "tasks.db")
		s := openTestStore(t, path)
		assert.FileExists(t, path)
		assert.FileExists(t, path+".lock")
		assert.NotNil(t, s.DB())
	})

	t.Run("empty_path", func(t *testing.T) {
		t.Parallel()
		_, log := logger.SetupTestLogger(t)
		_, err := Open(context.Background(), Config{}, log)
		assert.ErrorIs(t, err, store.ErrStorageUnavailable)
	})

	t.Run("parent_is_a_file", func(t *testing.T) {
		t.Parallel()
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

		_, log := logger.SetupTestLogger(t)
		_, err := Open(context.Background(), Config{Path: filepath.Join(blocker, "tasks.db")}, log)
		assert.ErrorIs(t, err, store.ErrStorageUnavailable)
	})

	t.Run("not_a_database", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "garbage.db")
		garbage := make([]byte, 4096)
		for i := range garbage {
			garbage[i] = byte(i*7 + 3)
		}
		require.NoError(t, os.WriteFile(path, garbage, 0o644))

		_, log := logger.SetupTestLogger(t)
		_, err := Open(context.Background(), Config{Path: path}, log)
		assert.ErrorIs(t, err, store.ErrStorageUnavailable)
	})

	t.Run("reopen_keeps_rows", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tasks.db")
		_, log := logger.SetupTestLogger(t)

		first, err := Open(context.Background(), Config{Path: path}, log)
		require.NoError(t, err)
		require.NoError(t, first.Add(context.Background(), "kept", ""))
		require.NoError(t, first.Close())

		second := openTestStore(t, path)
		got, err := second.GetStatus(context.Background(), "kept")
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
	})
}

func TestMigrationStatus(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	statuses, err := Status(ctx, s.DB())
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, st := range statuses {
		assert.True(t, st.Applied, "migration %d should be applied", st.Version)
	}

	// Running again is a no-op.
	_, log := logger.SetupTestLogger(t)
	version, err := Migrate(ctx, s.DB(), log)
	require.NoError(t, err)
	assert.Equal(t, statuses[len(statuses)-1].Version, version)

	current, err := Version(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, version, current)
}

func TestOpenDB_DoesNotMigrate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := OpenDB(ctx, Config{Path: filepath.Join(t.TempDir(), "raw.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'task'`).Scan(&n))
	assert.Zero(t, n)
}

func TestTaskStore_Add(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "a.txt", "first"))

	got, err := s.GetStatus(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Name)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "first", got.Detail)
	assert.NotNil(t, got.Begin)
	assert.Nil(t, got.EndProcess)

	t.Run("duplicate_keeps_existing_row", func(t *testing.T) {
		_, ok, err := s.Take(ctx, "worker")
		require.NoError(t, err)
		require.True(t, ok)

		err = s.Add(ctx, "a.txt", "second")
		assert.ErrorIs(t, err, store.ErrTaskExists)
		assert.True(t, store.IsDuplicateError(err))

		got, err := s.GetStatus(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, task.StatusTaken, got.Status)
		assert.Equal(t, "worker", got.Detail)
	})

	t.Run("empty_name", func(t *testing.T) {
		err := s.Add(ctx, "  ", "")
		assert.ErrorIs(t, err, store.ErrInvalidEntity)

		var storeErr *store.StoreError
		assert.True(t, errors.As(err, &storeErr))
	})
}

func TestTaskStore_AddMany(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "b", ""))

	added, err := s.AddMany(ctx, []string{"a", "b", "", "c", "a"}, "seed")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.Stats{task.StatusPending: 3}, stats)

	got, err := s.GetStatus(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, got.Detail, "existing row must not be overwritten")
}

func TestTaskStore_Take(t *testing.T) {
	t.Parallel()

	t.Run("empty_store", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)

		name, ok, err := s.Take(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, name)
	})

	t.Run("oldest_first", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		ctx := context.Background()

		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, name := range []string{"late", "early"} {
			at := base.Add(time.Duration(1-i) * time.Hour)
			s.now = func() time.Time { return at }
			require.NoError(t, s.Add(ctx, name, ""))
		}
		s.now = func() time.Time { return base.Add(2 * time.Hour) }

		name, ok, err := s.Take(ctx, "run=1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "early", name)

		got, err := s.GetStatus(ctx, "early")
		require.NoError(t, err)
		assert.Equal(t, task.StatusTaken, got.Status)
		assert.Equal(t, "run=1", got.Detail)
		require.NotNil(t, got.Begin)
		assert.True(t, got.Begin.Equal(base.Add(2*time.Hour)))
		assert.Nil(t, got.EndProcess)
	})

	t.Run("skips_non_pending", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		ctx := context.Background()

		require.NoError(t, s.Add(ctx, "only", ""))
		_, ok, err := s.Take(ctx, "")
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = s.Take(ctx, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		require.NoError(t, s.Add(context.Background(), "x", ""))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := s.Take(ctx, "")
		assert.Error(t, err)
	})
}

func TestTaskStore_TakeExclusive(t *testing.T) {
	t.Parallel()

	const callers = 16

	race := func(t *testing.T, stores []*TaskStore) {
		ctx := context.Background()
		require.NoError(t, stores[0].Add(ctx, "contested", ""))

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			names []string
			start = make(chan struct{})
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(s *TaskStore) {
				defer wg.Done()
				<-start
				name, ok, err := s.Take(ctx, "")
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					names = append(names, name)
					mu.Unlock()
				}
			}(stores[i%len(stores)])
		}
		close(start)
		wg.Wait()

		assert.Equal(t, []string{"contested"}, names)
	}

	t.Run("one_handle", func(t *testing.T) {
		t.Parallel()
		race(t, []*TaskStore{newTestStore(t)})
	})

	t.Run("separate_handles_on_one_file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tasks.db")
		race(t, []*TaskStore{
			openTestStore(t, path),
			openTestStore(t, path),
			openTestStore(t, path),
		})
	})
}

func TestTaskStore_Transitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name     string
		take     bool
		apply    func(s *TaskStore, name string) error
		wantErr  error
		wantStat task.Status
	}{
		{
			name:     "processed_from_taken",
			take:     true,
			apply:    func(s *TaskStore, n string) error { return s.Processed(ctx, n, "ok") },
			wantStat: task.StatusProcessed,
		},
		{
			name:     "processed_from_pending_rejected",
			apply:    func(s *TaskStore, n string) error { return s.Processed(ctx, n, "ok") },
			wantErr:  store.ErrInvalidTransition,
			wantStat: task.StatusPending,
		},
		{
			name:     "cancelled_from_taken",
			take:     true,
			apply:    func(s *TaskStore, n string) error { return s.Cancelled(ctx, n, "boom") },
			wantStat: task.StatusCancelled,
		},
		{
			name:     "cancelled_from_pending",
			apply:    func(s *TaskStore, n string) error { return s.Cancelled(ctx, n, "skip") },
			wantStat: task.StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t)
			require.NoError(t, s.Add(ctx, "job", ""))
			if tt.take {
				_, ok, err := s.Take(ctx, "")
				require.NoError(t, err)
				require.True(t, ok)
			}

			err := tt.apply(s, "job")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			got, err := s.GetStatus(ctx, "job")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStat, got.Status)
			assert.Equal(t, got.Status.Terminal(), got.EndProcess != nil,
				"end_process must be set exactly for terminal statuses")
		})
	}

	t.Run("terminal_rows_are_final", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t)
		require.NoError(t, s.Add(ctx, "job", ""))
		_, _, err := s.Take(ctx, "")
		require.NoError(t, err)
		require.NoError(t, s.Processed(ctx, "job", ""))

		assert.ErrorIs(t, s.Processed(ctx, "job", ""), store.ErrInvalidTransition)
		assert.ErrorIs(t, s.Cancelled(ctx, "job", ""), store.ErrInvalidTransition)
	})
}

func TestTaskStore_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))

	assert.ErrorIs(t, s.Processed(ctx, "missing", ""), store.ErrTaskNotFound)
	assert.ErrorIs(t, s.Cancelled(ctx, "missing", ""), store.ErrTaskNotFound)
}

func TestTaskStore_FreeTaken(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMany(ctx, []string{"a", "b", "c"}, "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, ok, err := s.Take(ctx, "")
		require.NoError(t, err)
		require.True(t, ok)
	}

	n, err := s.FreeTaken(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.Stats{task.StatusPending: 3}, stats)

	n, err = s.FreeTaken(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	again, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats, again)
}

func TestTaskStore_FreeCancelled(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMany(ctx, []string{"a", "b"}, "")
	require.NoError(t, err)
	require.NoError(t, s.Cancelled(ctx, "a", "gave up"))

	n, err := s.FreeCancelled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Nil(t, got.EndProcess)
}

func TestTaskStore_FreeStale(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_, err := s.AddMany(ctx, []string{"old", "new"}, "")
	require.NoError(t, err)

	_, ok, err := s.Take(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)

	s.now = func() time.Time { return base.Add(50 * time.Minute) }
	_, ok, err = s.Take(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)

	s.now = func() time.Time { return base.Add(time.Hour) }
	n, err := s.FreeStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.Stats{task.StatusPending: 1, task.StatusTaken: 1}, stats)
}

func TestTaskStore_ListAll(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMany(ctx, []string{"d", "b", "a", "c"}, "")
	require.NoError(t, err)
	require.NoError(t, s.Cancelled(ctx, "b", ""))

	names := func(tasks []task.Task) []string {
		out := make([]string, len(tasks))
		for i, tk := range tasks {
			out[i] = tk.Name
		}
		return out
	}

	tests := []struct {
		name   string
		filter task.ListFilter
		want   []string
	}{
		{name: "all", filter: task.ListFilter{}, want: []string{"a", "b", "c", "d"}},
		{name: "by_status", filter: task.ListFilter{Statuses: []task.Status{task.StatusCancelled}}, want: []string{"b"}},
		{
			name:   "several_statuses",
			filter: task.ListFilter{Statuses: []task.Status{task.StatusPending, task.StatusCancelled}},
			want:   []string{"a", "b", "c", "d"},
		},
		{name: "limit", filter: task.ListFilter{Limit: 2}, want: []string{"a", "b"}},
		{name: "no_match", filter: task.ListFilter{Statuses: []task.Status{task.StatusProcessed}}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAll(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestTaskStore_EndToEnd(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMany(ctx, []string{"a", "b", "c"}, "")
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken []string
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, ok, err := s.Take(ctx, "")
			if !assert.NoError(t, err) || !assert.True(t, ok) {
				return
			}
			mu.Lock()
			taken = append(taken, name)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Strings(taken)
	require.Equal(t, []string{"a", "b", "c"}, taken)

	for _, name := range taken {
		require.NoError(t, s.Processed(ctx, name, ""))
	}

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.Stats{task.StatusProcessed: 3}, stats)
}
