package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/nadmax/neurosched/internal/archive"
	"github.com/nadmax/neurosched/internal/dashboard"
	"github.com/nadmax/neurosched/internal/repository"
	"github.com/nadmax/neurosched/internal/repository/models"
	"github.com/nadmax/neurosched/internal/scheduler"
	"github.com/nadmax/neurosched/internal/scheduling"
	"github.com/nadmax/neurosched/internal/task"
	"github.com/nadmax/neurosched/internal/worker/handlers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowDispatch keeps every task after the first one pending for the
// duration of a test.
const slowDispatch = time.Hour

type fakeArchive struct {
	records []archive.Record
	err     error
}

func (f *fakeArchive) Recent(_ context.Context, limit int) ([]archive.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[:min(limit, len(f.records))], nil
}

func (f *fakeArchive) GetTask(_ context.Context, runID string, id int64) (*archive.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, rec := range f.records {
		if rec.RunID == runID && rec.Task.ID == id {
			return &rec, nil
		}
	}
	return nil, archive.ErrNotFound
}

func (f *fakeArchive) RunIDs(_ context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	runs := make([]string, 0)
	for _, rec := range f.records {
		if !slices.Contains(runs, rec.RunID) {
			runs = append(runs, rec.RunID)
		}
	}
	slices.Sort(runs)
	return runs, nil
}

func setupTestEngine(t *testing.T, interval time.Duration) *scheduler.Engine {
	t.Helper()

	engine := scheduler.NewEngine(&scheduler.Config{
		Logger:           zerolog.Nop(),
		DispatchInterval: interval,
	})
	require.NoError(t, engine.Initialize(scheduling.TypePriority))
	require.NoError(t, engine.Start())
	t.Cleanup(engine.Stop)

	return engine
}

func setupTestAPI(t *testing.T, interval time.Duration) (*API, *scheduler.Engine) {
	t.Helper()

	engine := setupTestEngine(t, interval)
	api := NewAPI(Config{
		Engine:  engine,
		Catalog: handlers.DefaultCatalog(handlers.Options{Logger: zerolog.Nop()}),
		Logger:  zerolog.Nop(),
	})

	return api, engine
}

func setupTestAPIWithHistory(t *testing.T) (*API, *repository.MockTaskRepository) {
	t.Helper()

	engine := setupTestEngine(t, time.Millisecond)
	repo := repository.NewMockTaskRepository()
	api := NewAPI(Config{
		Engine:  engine,
		Catalog: handlers.DefaultCatalog(handlers.Options{Logger: zerolog.Nop()}),
		History: repo,
		Logger:  zerolog.Nop(),
	})

	return api, repo
}

func doRequest(api *API, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)

	return w
}

func createTask(t *testing.T, api *API, body string) task.Task {
	t.Helper()

	w := doRequest(api, http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var tsk task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tsk))

	return tsk
}

func decodeTask(t *testing.T, w *httptest.ResponseRecorder) task.Task {
	t.Helper()

	var tsk task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tsk))

	return tsk
}

// waitDispatched blocks until the task has left the pending state.
func waitDispatched(t *testing.T, api *API, id int64) {
	t.Helper()

	require.Eventually(t, func() bool {
		got, ok := api.engine.Task(id)
		return ok && got.Status != task.StatusPending
	}, 2*time.Second, 2*time.Millisecond)
}

// pendingTask submits a throwaway task that takes the single immediate
// dispatch slot, then returns a second task that stays pending.
func pendingTask(t *testing.T, api *API) task.Task {
	t.Helper()

	first := createTask(t, api, `{"handler": "sleep"}`)
	waitDispatched(t, api, first.ID)

	return createTask(t, api, `{"name": "waiting", "handler": "sleep", "type": "processing"}`)
}

func TestCreateTask(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	tsk := createTask(t, api, `{
		"name": "resize",
		"type": "processing",
		"handler": "sleep",
		"payload": {"duration_ms": 1},
		"priority": 3,
		"weight": 2
	}`)

	assert.Equal(t, int64(1), tsk.ID)
	assert.Equal(t, "resize", tsk.Name)
	assert.Equal(t, task.TypeProcessing, tsk.Type)
	assert.Equal(t, 3, tsk.Priority)
	assert.Equal(t, 2, tsk.Weight)
	assert.False(t, tsk.CreatedAt.IsZero())
}

func TestCreateTask_Defaults(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	tsk := createTask(t, api, `{"handler": "fail"}`)

	assert.Equal(t, "fail", tsk.Name)
	assert.Equal(t, task.TypeCustom, tsk.Type)
	assert.Equal(t, 0, tsk.Priority)
	assert.Equal(t, 1, tsk.Weight)
}

func TestCreateTask_Validation(t *testing.T) {
	api, engine := setupTestAPI(t, slowDispatch)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `invalid json`},
		{name: "missing handler", body: `{"name": "x"}`},
		{name: "unknown handler", body: `{"handler": "teleport"}`},
		{name: "invalid payload", body: `{"handler": "sleep", "payload": {"duration_ms": -5}}`},
		{name: "zero weight", body: `{"handler": "sleep", "weight": 0}`},
		{name: "negative weight", body: `{"handler": "sleep", "weight": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(api, http.MethodPost, "/api/tasks", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
	assert.Zero(t, engine.TaskCount())
}

func TestCreateTask_EngineNotRunning(t *testing.T) {
	engine := scheduler.NewEngine(&scheduler.Config{Logger: zerolog.Nop()})
	require.NoError(t, engine.Initialize(scheduling.TypePriority))
	api := NewAPI(Config{
		Engine:  engine,
		Catalog: handlers.DefaultCatalog(handlers.Options{Logger: zerolog.Nop()}),
		Logger:  zerolog.Nop(),
	})

	w := doRequest(api, http.MethodPost, "/api/tasks", `{"handler": "sleep"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateTask_Executes(t *testing.T) {
	api, engine := setupTestAPI(t, time.Millisecond)

	tsk := createTask(t, api, `{"handler": "fail", "type": "diagnostics", "payload": {"message": "probe timeout"}}`)

	require.Eventually(t, func() bool {
		return engine.TaskStatus(tsk.ID) == task.StatusFailed
	}, 2*time.Second, 2*time.Millisecond)

	w := doRequest(api, http.MethodGet, "/api/tasks/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeTask(t, w)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "probe timeout", got.Error)
	assert.NotNil(t, got.EndedAt)
}

func TestHandleTasks_MethodNotAllowed(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	w := doRequest(api, http.MethodPut, "/api/tasks", "")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListTasks(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	first := createTask(t, api, `{"handler": "sleep", "type": "maintenance"}`)
	waitDispatched(t, api, first.ID)
	createTask(t, api, `{"handler": "sleep", "type": "processing"}`)
	createTask(t, api, `{"handler": "sleep", "type": "maintenance"}`)

	tests := []struct {
		name     string
		query    string
		expected []int64
	}{
		{name: "all", query: "", expected: []int64{1, 2, 3}},
		{name: "by type", query: "?type=maintenance", expected: []int64{1, 3}},
		{name: "by status", query: "?status=pending", expected: []int64{2, 3}},
		{name: "by status and type", query: "?status=pending&type=maintenance", expected: []int64{3}},
		{name: "no match", query: "?type=communication", expected: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(api, http.MethodGet, "/api/tasks"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code)

			var tasks []task.Task
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))

			ids := make([]int64, 0, len(tasks))
			for _, tsk := range tasks {
				ids = append(ids, tsk.ID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestListTasks_InvalidStatus(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	w := doRequest(api, http.MethodGet, "/api/tasks?status=dead_letter", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTask(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)
	created := pendingTask(t, api)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{name: "existing", path: "/api/tasks/2", expectedStatus: http.StatusOK},
		{name: "unknown", path: "/api/tasks/999", expectedStatus: http.StatusNotFound},
		{name: "invalid id", path: "/api/tasks/abc", expectedStatus: http.StatusBadRequest},
		{name: "missing id", path: "/api/tasks/", expectedStatus: http.StatusBadRequest},
		{name: "unknown sub-resource", path: "/api/tasks/2/logs", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(api, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	w := doRequest(api, http.MethodGet, "/api/tasks/2", "")
	got := decodeTask(t, w)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestDeleteTask(t *testing.T) {
	api, engine := setupTestAPI(t, slowDispatch)
	tsk := pendingTask(t, api)

	w := doRequest(api, http.MethodDelete, "/api/tasks/2", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, ok := engine.Task(tsk.ID)
	assert.False(t, ok)
	assert.Zero(t, engine.QueueDepth())

	w = doRequest(api, http.MethodDelete, "/api/tasks/2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateTask(t *testing.T) {
	api, engine := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	w := doRequest(api, http.MethodPatch, "/api/tasks/2", `{"priority": 9, "weight": 4}`)
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeTask(t, w)
	assert.Equal(t, 9, got.Priority)
	assert.Equal(t, 4, got.Weight)

	stored, _ := engine.Task(2)
	assert.Equal(t, 9, stored.Priority)
}

func TestUpdateTask_Errors(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
	}{
		{name: "empty update", path: "/api/tasks/2", body: `{}`, expectedStatus: http.StatusBadRequest},
		{name: "invalid json", path: "/api/tasks/2", body: `{`, expectedStatus: http.StatusBadRequest},
		{name: "invalid weight", path: "/api/tasks/2", body: `{"weight": 0}`, expectedStatus: http.StatusBadRequest},
		{name: "unknown task", path: "/api/tasks/404", body: `{"priority": 1}`, expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(api, http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestTaskByID_MethodNotAllowed(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(api, http.MethodPost, "/api/tasks/2", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(api, http.MethodGet, "/api/tasks/2/cancel", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(api, http.MethodPut, "/api/tasks/2/dependencies/1", "").Code)
}

func TestCancelTask(t *testing.T) {
	api, engine := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	w := doRequest(api, http.MethodPost, "/api/tasks/2/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.StatusCancelled, decodeTask(t, w).Status)
	assert.Equal(t, 1, engine.Statistics().CancelledTasks)

	w = doRequest(api, http.MethodPost, "/api/tasks/2/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(api, http.MethodPost, "/api/tasks/404/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskDependencies(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	w := doRequest(api, http.MethodPost, "/api/tasks/2/dependencies/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1}, decodeTask(t, w).Dependencies)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{name: "self dependency", method: http.MethodPost, path: "/api/tasks/2/dependencies/2", expectedStatus: http.StatusBadRequest},
		{name: "unknown dependency", method: http.MethodPost, path: "/api/tasks/2/dependencies/99", expectedStatus: http.StatusNotFound},
		{name: "unknown task", method: http.MethodPost, path: "/api/tasks/99/dependencies/1", expectedStatus: http.StatusNotFound},
		{name: "invalid dependency id", method: http.MethodPost, path: "/api/tasks/2/dependencies/x", expectedStatus: http.StatusBadRequest},
		{name: "remove", method: http.MethodDelete, path: "/api/tasks/2/dependencies/1", expectedStatus: http.StatusOK},
		{name: "remove again", method: http.MethodDelete, path: "/api/tasks/2/dependencies/1", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(api, tt.method, tt.path, "")
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestSchedulerStats(t *testing.T) {
	api, engine := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	w := doRequest(api, http.MethodGet, "/api/scheduler/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status SchedulerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "running", status.State)
	assert.Equal(t, scheduling.TypePriority, status.Algorithm)
	assert.Equal(t, engine.RunID(), status.RunID)
	assert.Equal(t, 1, status.QueueDepth)
	assert.Equal(t, 2, status.Statistics.TotalTasks)
	assert.Equal(t, 1, status.Statistics.PendingTasks)

	w = doRequest(api, http.MethodPost, "/api/scheduler/stats", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSchedulerAlgorithm(t *testing.T) {
	api, engine := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	w := doRequest(api, http.MethodGet, "/api/scheduler/algorithm", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"algorithm": "priority"}`, w.Body.String())

	w = doRequest(api, http.MethodPut, "/api/scheduler/algorithm", `{"algorithm": "wfq"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"algorithm": "weighted_fair_queuing"}`, w.Body.String())
	assert.Equal(t, scheduling.TypeWeightedFairQueuing, engine.AlgorithmType())
	assert.Equal(t, 1, engine.QueueDepth(), "pending task migrated")

	w = doRequest(api, http.MethodPut, "/api/scheduler/algorithm", `{"algorithm": "lottery"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(api, http.MethodPut, "/api/scheduler/algorithm", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(api, http.MethodDelete, "/api/scheduler/algorithm", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSchedulerAlgorithm_NotInitialized(t *testing.T) {
	api := NewAPI(Config{Engine: scheduler.NewEngine(nil), Logger: zerolog.Nop()})

	w := doRequest(api, http.MethodPut, "/api/scheduler/algorithm", `{"algorithm": "rr"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandlersList(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	w := doRequest(api, http.MethodGet, "/api/handlers", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["fail", "sleep"]`, w.Body.String())
}

func TestHealth(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	w := doRequest(api, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok", "scheduler": "running"}`, w.Body.String())
}

func TestDashboardRoutes(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)
	pendingTask(t, api)

	w := doRequest(api, http.MethodGet, "/api/dashboard/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats dashboard.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalTasks)
	assert.Equal(t, 2, stats.TasksByType["processing"]+stats.TasksByType["custom"])

	w = doRequest(api, http.MethodGet, "/api/dashboard/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHistory_NotConfigured(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)

	for _, path := range []string{
		"/api/history/recent",
		"/api/history/type/processing",
		"/api/history/stats",
		"/api/history/archived",
		"/api/history/archived/run/1",
		"/api/history/runs",
		"/api/history/run/1",
	} {
		w := doRequest(api, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestHistoryRecent(t *testing.T) {
	api, repo := setupTestAPIWithHistory(t)
	ctx := context.Background()
	base := time.Now()

	for i := range 3 {
		require.NoError(t, repo.RecordTask(ctx, "run", task.Task{
			ID:        int64(i + 1),
			Type:      task.TypeProcessing,
			Status:    task.StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	w := doRequest(api, http.MethodGet, "/api/history/recent?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var records []models.TaskRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, int64(3), records[0].TaskID)

	w = doRequest(api, http.MethodGet, "/api/history/recent?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(api, http.MethodPost, "/api/history/recent", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHistoryRecent_RepositoryError(t *testing.T) {
	api, repo := setupTestAPIWithHistory(t)
	repo.GetRecentTasksError = errors.New("connection refused")

	w := doRequest(api, http.MethodGet, "/api/history/recent", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryByType(t *testing.T) {
	api, repo := setupTestAPIWithHistory(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordTask(ctx, "run", task.Task{ID: 1, Type: task.TypeMaintenance}))
	require.NoError(t, repo.RecordTask(ctx, "run", task.Task{ID: 2, Type: task.TypeProcessing}))

	w := doRequest(api, http.MethodGet, "/api/history/type/maintenance", "")
	require.Equal(t, http.StatusOK, w.Code)

	var records []models.TaskRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].TaskID)

	w = doRequest(api, http.MethodGet, "/api/history/type/", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	repo.GetTasksByTypeError = errors.New("boom")
	w = doRequest(api, http.MethodGet, "/api/history/type/maintenance", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryStats(t *testing.T) {
	api, repo := setupTestAPIWithHistory(t)
	repo.TaskStats = []models.TaskStats{{Type: "processing", Status: "completed", Count: 4}}

	w := doRequest(api, http.MethodGet, "/api/history/stats?hours=6", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats []models.TaskStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, 4, stats[0].Count)

	w = doRequest(api, http.MethodGet, "/api/history/stats?hours=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	repo.GetTaskStatsError = errors.New("boom")
	w = doRequest(api, http.MethodGet, "/api/history/stats", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryArchived(t *testing.T) {
	engine := setupTestEngine(t, slowDispatch)
	arch := &fakeArchive{records: []archive.Record{
		{RunID: "run", Task: task.Task{ID: 2, Status: task.StatusFailed}},
		{RunID: "run", Task: task.Task{ID: 1, Status: task.StatusCompleted}},
	}}
	api := NewAPI(Config{Engine: engine, Archive: arch, Logger: zerolog.Nop()})

	w := doRequest(api, http.MethodGet, "/api/history/archived?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var records []archive.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].Task.ID)

	arch.err = errors.New("redis down")
	w = doRequest(api, http.MethodGet, "/api/history/archived", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryTask(t *testing.T) {
	api, repo := setupTestAPIWithHistory(t)
	require.NoError(t, repo.RecordTask(context.Background(), "run-a", task.Task{
		ID:     3,
		Name:   "export",
		Type:   task.TypeMaintenance,
		Status: task.StatusCompleted,
	}))

	w := doRequest(api, http.MethodGet, "/api/history/run-a/3", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var record models.TaskRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "run-a", record.RunID)
	assert.Equal(t, int64(3), record.TaskID)
	assert.Equal(t, "export", record.Name)

	for _, path := range []string{"/api/history/run-a/4", "/api/history/run-b/3", "/api/history/run-a/x", "/api/history/run-a"} {
		w = doRequest(api, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	repo.GetTaskError = errors.New("connection refused")
	w = doRequest(api, http.MethodGet, "/api/history/run-a/3", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryArchivedTask(t *testing.T) {
	engine := setupTestEngine(t, slowDispatch)
	arch := &fakeArchive{records: []archive.Record{
		{RunID: "run", Task: task.Task{ID: 2, Status: task.StatusFailed, Error: "boom"}},
	}}
	api := NewAPI(Config{Engine: engine, Archive: arch, Logger: zerolog.Nop()})

	w := doRequest(api, http.MethodGet, "/api/history/archived/run/2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var record archive.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "run", record.RunID)
	assert.Equal(t, "boom", record.Task.Error)

	w = doRequest(api, http.MethodGet, "/api/history/archived/run/9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(api, http.MethodGet, "/api/history/archived/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(api, http.MethodDelete, "/api/history/archived/run/2", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	arch.err = errors.New("redis down")
	w = doRequest(api, http.MethodGet, "/api/history/archived/run/2", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryRuns(t *testing.T) {
	engine := setupTestEngine(t, slowDispatch)
	arch := &fakeArchive{records: []archive.Record{
		{RunID: "run-b", Task: task.Task{ID: 1}},
		{RunID: "run-a", Task: task.Task{ID: 1}},
		{RunID: "run-b", Task: task.Task{ID: 2}},
	}}
	api := NewAPI(Config{Engine: engine, Archive: arch, Logger: zerolog.Nop()})

	w := doRequest(api, http.MethodGet, "/api/history/runs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Current string   `json:"current"`
		Runs    []string `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, engine.RunID(), body.Current)
	assert.Equal(t, []string{"run-a", "run-b"}, body.Runs)

	arch.err = errors.New("redis down")
	w = doRequest(api, http.MethodGet, "/api/history/runs", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetTask_WaitForCompletion(t *testing.T) {
	api, _ := setupTestAPI(t, time.Millisecond)

	created := createTask(t, api, `{"handler": "sleep", "payload": {"duration_ms": 50}}`)
	waitDispatched(t, api, created.ID)

	w := doRequest(api, http.MethodGet, fmt.Sprintf("/api/tasks/%d?wait=2s", created.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.StatusCompleted, decodeTask(t, w).Status)
}

func TestGetTask_WaitTimesOut(t *testing.T) {
	api, _ := setupTestAPI(t, time.Millisecond)

	created := createTask(t, api, `{"handler": "sleep", "payload": {"duration_ms": 500}}`)
	waitDispatched(t, api, created.ID)

	w := doRequest(api, http.MethodGet, fmt.Sprintf("/api/tasks/%d?wait=10ms", created.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.StatusRunning, decodeTask(t, w).Status)
}

func TestGetTask_InvalidWait(t *testing.T) {
	api, _ := setupTestAPI(t, slowDispatch)
	created := createTask(t, api, `{"handler": "sleep"}`)

	for _, wait := range []string{"soon", "-1s"} {
		w := doRequest(api, http.MethodGet, fmt.Sprintf("/api/tasks/%d?wait=%s", created.ID, wait), "")
		assert.Equal(t, http.StatusBadRequest, w.Code, wait)
	}
}
