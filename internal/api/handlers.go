// Package api exposes the scheduler over a JSON HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/neurosched/internal/archive"
	"github.com/nadmax/neurosched/internal/dashboard"
	"github.com/nadmax/neurosched/internal/httputil"
	"github.com/nadmax/neurosched/internal/repository"
	"github.com/nadmax/neurosched/internal/scheduler"
	"github.com/nadmax/neurosched/internal/scheduling"
	"github.com/nadmax/neurosched/internal/task"
	"github.com/nadmax/neurosched/internal/worker/handlers"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes       = 1 << 20
	defaultHistoryRows = 50
	maxHistoryRows     = 1000
	maxTaskWait        = 30 * time.Second
)

// ArchiveReader is the read side of the Redis archive.
type ArchiveReader interface {
	Recent(ctx context.Context, limit int) ([]archive.Record, error)
	GetTask(ctx context.Context, runID string, id int64) (*archive.Record, error)
	RunIDs(ctx context.Context) ([]string, error)
}

type Config struct {
	Engine  *scheduler.Engine
	Catalog *handlers.Catalog
	// History and Archive are optional; their routes answer 503 when unset.
	History repository.TaskRepository
	Archive ArchiveReader
	Logger  zerolog.Logger
}

type API struct {
	engine  *scheduler.Engine
	catalog *handlers.Catalog
	history repository.TaskRepository
	archive ArchiveReader
	logger  zerolog.Logger
	mux     *http.ServeMux
}

type CreateTaskRequest struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Handler  string          `json:"handler"`
	Payload  json.RawMessage `json:"payload"`
	Priority *int            `json:"priority"`
	Weight   *int            `json:"weight"`
}

type UpdateTaskRequest struct {
	Priority *int `json:"priority"`
	Weight   *int `json:"weight"`
}

type AlgorithmRequest struct {
	Algorithm string `json:"algorithm"`
}

type SchedulerStatus struct {
	State      string               `json:"state"`
	Algorithm  scheduling.Type      `json:"algorithm"`
	RunID      string               `json:"run_id"`
	QueueDepth int                  `json:"queue_depth"`
	Statistics scheduler.Statistics `json:"statistics"`
}

func NewAPI(cfg Config) *API {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = handlers.NewCatalog()
	}

	api := &API{
		engine:  cfg.Engine,
		catalog: catalog,
		history: cfg.History,
		archive: cfg.Archive,
		logger:  cfg.Logger,
		mux:     http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/health", a.handleHealth)
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)
	a.mux.HandleFunc("/api/handlers", a.handleHandlers)
	a.mux.HandleFunc("/api/scheduler/stats", a.handleSchedulerStats)
	a.mux.HandleFunc("/api/scheduler/algorithm", a.handleAlgorithm)

	dash := dashboard.NewDashboard(a.engine)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/history", dash.GetRecentTasks)

	a.mux.HandleFunc("/api/history/recent", a.handleHistoryRecent)
	a.mux.HandleFunc("/api/history/type/", a.handleHistoryByType)
	a.mux.HandleFunc("/api/history/stats", a.handleHistoryStats)
	a.mux.HandleFunc("/api/history/archived", a.handleArchived)
	a.mux.HandleFunc("/api/history/archived/", a.handleArchivedTask)
	a.mux.HandleFunc("/api/history/runs", a.handleRuns)
	a.mux.HandleFunc("/api/history/", a.handleHistoryTask)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, map[string]string{
		"status":    "ok",
		"scheduler": a.engine.State().String(),
	}, http.StatusOK)
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		a.listTasks(w, r)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer func() {
		if err := r.Body.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close request body")
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}

	return true
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	if req.Handler == "" {
		httputil.WriteJSONError(w, "Task handler is required", http.StatusBadRequest)
		return
	}

	work, err := a.catalog.Build(req.Handler, req.Payload)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := req.Name
	if name == "" {
		name = req.Handler
	}
	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	weight := 1
	if req.Weight != nil {
		weight = *req.Weight
	}

	id, err := a.engine.AddTask(name, task.ParseType(req.Type), priority, weight, work, req.Handler)
	switch {
	case errors.Is(err, scheduler.ErrInvalidWeight):
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		httputil.WriteJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	created, ok := a.engine.Task(id)
	if !ok {
		httputil.WriteJSONError(w, "Task vanished after creation", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, created, http.StatusCreated)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := query.Get("status")
	taskType := query.Get("type")

	if status != "" && !task.Status(status).IsValid() {
		httputil.WriteJSONError(w, "Invalid status filter", http.StatusBadRequest)
		return
	}

	var tasks []task.Task
	switch {
	case status != "":
		tasks = a.engine.TasksByStatus(task.Status(status))
	case taskType != "":
		tasks = a.engine.TasksByType(task.ParseType(taskType))
	default:
		tasks = a.engine.Tasks()
	}

	if status != "" && taskType != "" {
		want := task.ParseType(taskType)
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Type == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []task.Task{}
	}

	httputil.WriteJSON(w, tasks, http.StatusOK)
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if rest == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	parts := strings.Split(rest, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		httputil.WriteJSONError(w, "Invalid task ID", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getTask(w, r, id)
		case http.MethodDelete:
			a.deleteTask(w, id)
		case http.MethodPatch:
			a.updateTask(w, r, id)
		default:
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.cancelTask(w, id)
	case len(parts) == 3 && parts[1] == "dependencies":
		dep, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			httputil.WriteJSONError(w, "Invalid dependency ID", http.StatusBadRequest)
			return
		}
		a.handleDependency(w, r, id, dep)
	default:
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
	}
}

// getTask answers with the task record. With ?wait=<duration> it first
// blocks, up to maxTaskWait, until a running task finishes.
func (a *API) getTask(w http.ResponseWriter, r *http.Request, id int64) {
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			httputil.WriteJSONError(w, "Invalid wait parameter", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), min(d, maxTaskWait))
		defer cancel()
		if err := a.engine.Wait(ctx, id); err != nil {
			a.logger.Debug().Err(err).Int64("task_id", id).Msg("wait ended before task finished")
		}
	}

	a.writeTask(w, id)
}

func (a *API) writeTask(w http.ResponseWriter, id int64) {
	t, ok := a.engine.Task(id)
	if !ok {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	httputil.WriteJSON(w, t, http.StatusOK)
}

func (a *API) deleteTask(w http.ResponseWriter, id int64) {
	if !a.engine.RemoveTask(id) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request, id int64) {
	var req UpdateTaskRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	if req.Priority == nil && req.Weight == nil {
		httputil.WriteJSONError(w, "Nothing to update", http.StatusBadRequest)
		return
	}
	if req.Weight != nil && *req.Weight <= 0 {
		httputil.WriteJSONError(w, scheduler.ErrInvalidWeight.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := a.engine.Task(id); !ok {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	if req.Priority != nil && !a.engine.UpdateTaskPriority(id, *req.Priority) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if req.Weight != nil && !a.engine.UpdateTaskWeight(id, *req.Weight) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	a.writeTask(w, id)
}

func (a *API) cancelTask(w http.ResponseWriter, id int64) {
	if _, ok := a.engine.Task(id); !ok {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if !a.engine.CancelTask(id) {
		httputil.WriteJSONError(w, "Only pending tasks can be cancelled", http.StatusConflict)
		return
	}

	a.writeTask(w, id)
}

func (a *API) handleDependency(w http.ResponseWriter, r *http.Request, id, dep int64) {
	if _, ok := a.engine.Task(id); !ok {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPost:
		if _, ok := a.engine.Task(dep); !ok {
			httputil.WriteJSONError(w, "Dependency not found", http.StatusNotFound)
			return
		}
		if !a.engine.AddTaskDependency(id, dep) {
			httputil.WriteJSONError(w, "A task cannot depend on itself", http.StatusBadRequest)
			return
		}
	case http.MethodDelete:
		if !a.engine.RemoveTaskDependency(id, dep) {
			httputil.WriteJSONError(w, "Dependency not found", http.StatusNotFound)
			return
		}
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.writeTask(w, id)
}

func (a *API) handleHandlers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, a.catalog.Names(), http.StatusOK)
}

func (a *API) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, SchedulerStatus{
		State:      a.engine.State().String(),
		Algorithm:  a.engine.AlgorithmType(),
		RunID:      a.engine.RunID(),
		QueueDepth: a.engine.QueueDepth(),
		Statistics: a.engine.Statistics(),
	}, http.StatusOK)
}

func (a *API) handleAlgorithm(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req AlgorithmRequest
		if !a.decodeBody(w, r, &req) {
			return
		}

		algorithmType, err := scheduling.ParseType(req.Algorithm)
		if err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := a.engine.SetSchedulingAlgorithm(algorithmType); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, scheduler.ErrNotInitialized) {
				status = http.StatusConflict
			}
			httputil.WriteJSONError(w, err.Error(), status)
			return
		}
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, AlgorithmRequest{Algorithm: a.engine.AlgorithmType().String()}, http.StatusOK)
}

// intParam reads a positive integer query parameter, capped at maxValue.
func intParam(r *http.Request, name string, fallback, maxValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("invalid " + name + " parameter")
	}

	return min(v, maxValue), nil
}

func (a *API) historyAvailable(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if a.history == nil {
		httputil.WriteJSONError(w, "History repository not configured", http.StatusServiceUnavailable)
		return false
	}

	return true
}

func (a *API) handleHistoryRecent(w http.ResponseWriter, r *http.Request) {
	if !a.historyAvailable(w, r) {
		return
	}

	limit, err := intParam(r, "limit", defaultHistoryRows, maxHistoryRows)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := a.history.GetRecentTasks(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to load recent history")
		httputil.WriteJSONError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, records, http.StatusOK)
}

func (a *API) handleHistoryByType(w http.ResponseWriter, r *http.Request) {
	if !a.historyAvailable(w, r) {
		return
	}

	taskType := strings.TrimPrefix(r.URL.Path, "/api/history/type/")
	if taskType == "" || strings.Contains(taskType, "/") {
		httputil.WriteJSONError(w, "Task type is required", http.StatusBadRequest)
		return
	}

	limit, err := intParam(r, "limit", defaultHistoryRows, maxHistoryRows)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := a.history.GetTasksByType(r.Context(), taskType, limit)
	if err != nil {
		a.logger.Error().Err(err).Str("type", taskType).Msg("failed to load history by type")
		httputil.WriteJSONError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, records, http.StatusOK)
}

func (a *API) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if !a.historyAvailable(w, r) {
		return
	}

	hours, err := intParam(r, "hours", 24, 24*365)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := a.history.GetTaskStats(r.Context(), hours)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to load history stats")
		httputil.WriteJSONError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, stats, http.StatusOK)
}

func (a *API) handleArchived(w http.ResponseWriter, r *http.Request) {
	if !a.archiveAvailable(w, r) {
		return
	}

	limit, err := intParam(r, "limit", defaultHistoryRows, maxHistoryRows)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := a.archive.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to load archived tasks")
		httputil.WriteJSONError(w, "Failed to load archive", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, records, http.StatusOK)
}

// runTaskPath splits "<run>/<id>" off path after prefix.
func runTaskPath(path, prefix string) (string, int64, bool) {
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, false
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}

	return parts[0], id, true
}

func (a *API) handleHistoryTask(w http.ResponseWriter, r *http.Request) {
	if !a.historyAvailable(w, r) {
		return
	}

	runID, id, ok := runTaskPath(r.URL.Path, "/api/history/")
	if !ok {
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
		return
	}

	record, err := a.history.GetTask(r.Context(), runID, id)
	if errors.Is(err, repository.ErrTaskNotFound) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("run_id", runID).Int64("task_id", id).Msg("failed to load task history")
		httputil.WriteJSONError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, record, http.StatusOK)
}

func (a *API) archiveAvailable(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if a.archive == nil {
		httputil.WriteJSONError(w, "Archive not configured", http.StatusServiceUnavailable)
		return false
	}

	return true
}

func (a *API) handleArchivedTask(w http.ResponseWriter, r *http.Request) {
	if !a.archiveAvailable(w, r) {
		return
	}

	runID, id, ok := runTaskPath(r.URL.Path, "/api/history/archived/")
	if !ok {
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
		return
	}

	record, err := a.archive.GetTask(r.Context(), runID, id)
	if errors.Is(err, archive.ErrNotFound) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("run_id", runID).Int64("task_id", id).Msg("failed to load archived task")
		httputil.WriteJSONError(w, "Failed to load archive", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, record, http.StatusOK)
}

func (a *API) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !a.archiveAvailable(w, r) {
		return
	}

	runs, err := a.archive.RunIDs(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list archived runs")
		httputil.WriteJSONError(w, "Failed to load archive", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, map[string]any{
		"current": a.engine.RunID(),
		"runs":    runs,
	}, http.StatusOK)
}
