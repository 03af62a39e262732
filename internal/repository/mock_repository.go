package repository

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/nadmax/neurosched/internal/repository/models"
	"github.com/nadmax/neurosched/internal/task"
)

// MockTaskRepository is an in-memory TaskRepository for tests.
type MockTaskRepository struct {
	mu                  sync.Mutex
	RecordTaskCalls     []RecordTaskCall
	Records             map[string]models.TaskRecord
	TaskStats           []models.TaskStats
	RecordTaskError     error
	GetTaskError        error
	GetTaskStatsError   error
	GetRecentTasksError error
	GetTasksByTypeError error
	closed              bool
}

type RecordTaskCall struct {
	RunID string
	Task  task.Task
}

var _ TaskRepository = (*MockTaskRepository)(nil)

func NewMockTaskRepository() *MockTaskRepository {
	return &MockTaskRepository{
		Records:   make(map[string]models.TaskRecord),
		TaskStats: make([]models.TaskStats, 0),
	}
}

// NewTaskRecord converts a finished task into its history row.
func NewTaskRecord(runID string, t task.Task) models.TaskRecord {
	rec := models.TaskRecord{
		RunID:        runID,
		TaskID:       t.ID,
		Name:         t.Name,
		Type:         string(t.Type),
		Status:       string(t.Status),
		Priority:     t.Priority,
		Weight:       t.Weight,
		Dependencies: slices.Clone(t.Dependencies),
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		EndedAt:      t.EndedAt,
		Error:        t.Error,
	}
	if t.EndedAt != nil {
		ms := t.Duration.Milliseconds()
		rec.DurationMs = &ms
	}

	return rec
}

func mockKey(runID string, id int64) string {
	return runID + ":" + strconv.FormatInt(id, 10)
}

func (m *MockTaskRepository) RecordTask(ctx context.Context, runID string, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordTaskCalls = append(m.RecordTaskCalls, RecordTaskCall{RunID: runID, Task: t})

	if m.RecordTaskError != nil {
		return m.RecordTaskError
	}

	m.Records[mockKey(runID, t.ID)] = NewTaskRecord(runID, t)
	return nil
}

func (m *MockTaskRepository) GetTask(ctx context.Context, runID string, taskID int64) (*models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetTaskError != nil {
		return nil, m.GetTaskError
	}

	rec, exists := m.Records[mockKey(runID, taskID)]
	if !exists {
		return nil, ErrTaskNotFound
	}

	return &rec, nil
}

func (m *MockTaskRepository) GetTaskStats(ctx context.Context, hours int) ([]models.TaskStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetTaskStatsError != nil {
		return nil, m.GetTaskStatsError
	}

	return slices.Clone(m.TaskStats), nil
}

func (m *MockTaskRepository) GetRecentTasks(ctx context.Context, limit int) ([]models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetRecentTasksError != nil {
		return nil, m.GetRecentTasksError
	}

	return m.newest(limit, func(models.TaskRecord) bool { return true }), nil
}

func (m *MockTaskRepository) GetTasksByType(ctx context.Context, taskType string, limit int) ([]models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetTasksByTypeError != nil {
		return nil, m.GetTasksByTypeError
	}

	return m.newest(limit, func(r models.TaskRecord) bool { return r.Type == taskType }), nil
}

func (m *MockTaskRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func (m *MockTaskRepository) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func (m *MockTaskRepository) GetRecordTaskCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.RecordTaskCalls)
}

func (m *MockTaskRepository) WasTaskRecorded(runID string, taskID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.Records[mockKey(runID, taskID)]
	return exists
}

// newest returns matching records ordered by creation time, newest first.
func (m *MockTaskRepository) newest(limit int, keep func(models.TaskRecord) bool) []models.TaskRecord {
	out := make([]models.TaskRecord, 0, len(m.Records))
	for _, rec := range m.Records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b models.TaskRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.TaskID, a.TaskID)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}
