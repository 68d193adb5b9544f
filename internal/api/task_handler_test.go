package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/phrazzld/sift/internal/api/shared"
	"github.com/phrazzld/sift/internal/platform/logger"
	"github.com/phrazzld/sift/internal/store"
	"github.com/phrazzld/sift/internal/task"
	"github.com/phrazzld/sift/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seededServer returns a router over a store holding:
// a (PENDING), b (TAKEN), c (PROCESSED), /data/d.txt (CANCELLED).
func seededServer(t *testing.T) http.Handler {
	t.Helper()

	s := testdb.OpenStore(t)
	ctx := context.Background()

	_, err := s.AddMany(ctx, []string{"b", "c"}, "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, ok, err := s.Take(ctx, "worker")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.Processed(ctx, "c", "done"))
	require.NoError(t, s.Add(ctx, "a", ""))
	require.NoError(t, s.Add(ctx, "/data/d.txt", ""))
	require.NoError(t, s.Cancelled(ctx, "/data/d.txt", "skipped"))

	_, log := logger.SetupTestLogger(t)
	return NewRouter(s, log)
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()
	w := doGet(t, seededServer(t), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStats(t *testing.T) {
	t.Parallel()
	w := doGet(t, seededServer(t), "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var got StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 4, got.Total)
	assert.Equal(t, map[task.Status]int{
		task.StatusPending:   1,
		task.StatusTaken:     1,
		task.StatusProcessed: 1,
		task.StatusCancelled: 1,
	}, got.Counts)
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	h := seededServer(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantNames  []string
	}{
		{name: "all", query: "", wantStatus: http.StatusOK, wantNames: []string{"/data/d.txt", "a", "b", "c"}},
		{name: "one_status", query: "?status=taken", wantStatus: http.StatusOK, wantNames: []string{"b"}},
		{name: "repeated", query: "?status=PENDING&status=PROCESSED", wantStatus: http.StatusOK, wantNames: []string{"a", "c"}},
		{name: "comma_separated", query: "?status=PENDING,CANCELLED", wantStatus: http.StatusOK, wantNames: []string{"/data/d.txt", "a"}},
		{name: "limit", query: "?limit=2", wantStatus: http.StatusOK, wantNames: []string{"/data/d.txt", "a"}},
		{name: "bad_status", query: "?status=DONE", wantStatus: http.StatusBadRequest},
		{name: "bad_limit", query: "?limit=many", wantStatus: http.StatusBadRequest},
		{name: "limit_too_large", query: "?limit=100000", wantStatus: http.StatusBadRequest},
		{name: "limit_zero", query: "?limit=0", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doGet(t, h, "/tasks"+tc.query)
			require.Equal(t, tc.wantStatus, w.Code, w.Body.String())

			if tc.wantStatus != http.StatusOK {
				var errResp shared.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
				assert.NotEmpty(t, errResp.Error)
				assert.NotEmpty(t, errResp.TraceID)
				return
			}

			var got []TaskResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			names := make([]string, 0, len(got))
			for _, tr := range got {
				names = append(names, tr.Name)
			}
			assert.Equal(t, tc.wantNames, names)
		})
	}
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	h := seededServer(t)

	t.Run("found", func(t *testing.T) {
		w := doGet(t, h, "/tasks/c")
		require.Equal(t, http.StatusOK, w.Code)

		var got TaskResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "c", got.Name)
		assert.Equal(t, "PROCESSED", got.Status)
		assert.Equal(t, "done", got.Detail)
		assert.NotNil(t, got.Begin)
		assert.NotNil(t, got.EndProcess)
	})

	t.Run("path_name", func(t *testing.T) {
		w := doGet(t, h, "/tasks/"+url.PathEscape("/data/d.txt"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var got TaskResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "/data/d.txt", got.Name)
		assert.Equal(t, "CANCELLED", got.Status)
	})

	t.Run("not_found", func(t *testing.T) {
		w := doGet(t, h, "/tasks/missing")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `"Task not found"`, mustField(t, w.Body.Bytes(), "error"))
	})
}

// failingReader fails every query.
type failingReader struct{ err error }

func (f failingReader) GetStatus(context.Context, string) (task.Task, error) { return task.Task{}, f.err }
func (f failingReader) GetStats(context.Context) (task.Stats, error)         { return nil, f.err }
func (f failingReader) ListAll(context.Context, task.ListFilter) ([]task.Task, error) {
	return nil, f.err
}

func TestStoreFailures(t *testing.T) {
	t.Parallel()

	buf, log := logger.SetupTestLogger(t)
	h := NewRouter(failingReader{err: errors.New("disk I/O error at /secret")}, log)

	for _, target := range []string{"/stats", "/tasks", "/tasks/a"} {
		w := doGet(t, h, target)
		assert.Equal(t, http.StatusInternalServerError, w.Code, target)
		assert.NotContains(t, w.Body.String(), "/secret", "internal details must not leak")
	}
	logger.AssertLogContains(t, buf, "task query failed")

	h = NewRouter(failingReader{err: store.ErrStorageUnavailable}, log)
	assert.Equal(t, http.StatusServiceUnavailable, doGet(t, h, "/stats").Code)
}

func mustField(t *testing.T, body []byte, field string) string {
	t.Helper()

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[field])
}
