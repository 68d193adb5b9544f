package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/sift/internal/api/shared"
	"github.com/phrazzld/sift/internal/platform/logger"
	"github.com/phrazzld/sift/internal/task"
)

// DefaultListLimit caps GET /tasks when no limit is given.
const DefaultListLimit = 100

// ListTasksRequest holds the validated query of GET /tasks.
type ListTasksRequest struct {
	Statuses []string `validate:"dive,oneof=PENDING TAKEN PROCESSED CANCELLED"`
	Limit    int      `validate:"gte=1,lte=1000"`
}

// TaskResponse is the JSON form of a task.
type TaskResponse struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	Begin      *time.Time `json:"begin,omitempty"`
	EndProcess *time.Time `json:"end_process,omitempty"`
}

// StatsResponse maps each status to its task count; every status is present.
type StatsResponse struct {
	Counts map[task.Status]int `json:"counts"`
	Total  int                 `json:"total"`
}

// TaskHandler serves read-only task queries.
type TaskHandler struct {
	store  task.Reader
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(store task.Reader, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		store:  store,
		logger: logger.With("component", "task_handler"),
	}
}

// Health handles GET /health
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats handles GET /stats
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.respondWithStoreError(w, r, err)
		return
	}

	counts := make(map[task.Status]int, len(task.AllStatuses))
	for _, s := range task.AllStatuses {
		counts[s] = stats[s]
	}
	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{Counts: counts, Total: stats.Total()})
}

// ListTasks handles GET /tasks?status=PENDING&status=TAKEN&limit=50.
// status may also be comma separated.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	req, err := parseListTasksRequest(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid limit: must be a number", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	filter := task.ListFilter{Limit: req.Limit}
	for _, s := range req.Statuses {
		filter.Statuses = append(filter.Statuses, task.Status(s))
	}

	tasks, err := h.store.ListAll(r.Context(), filter)
	if err != nil {
		h.respondWithStoreError(w, r, err)
		return
	}

	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// GetTask handles GET /tasks/{name}. Names are usually file paths, so the
// rest of the URL path is taken as the name; escaped slashes are allowed.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || strings.TrimSpace(name) == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task name is required")
		return
	}

	t, err := h.store.GetStatus(r.Context(), name)
	if err != nil {
		h.respondWithStoreError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

func (h *TaskHandler) respondWithStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContextOrDefault(r.Context(), h.logger).Error("task query failed", "path", r.URL.Path, "error", err)
	}
	shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
}

func parseListTasksRequest(r *http.Request) (ListTasksRequest, error) {
	q := r.URL.Query()
	req := ListTasksRequest{Limit: DefaultListLimit}

	for _, v := range q["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				req.Statuses = append(req.Statuses, s)
			}
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.Join(errors.New("limit is not a number"), err)
		}
		req.Limit = n
	}
	return req, nil
}

func taskToResponse(t task.Task) TaskResponse {
	return TaskResponse{
		Name:       t.Name,
		Status:     string(t.Status),
		Detail:     t.Detail,
		Begin:      t.Begin,
		EndProcess: t.EndProcess,
	}
}
