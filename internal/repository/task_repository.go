// Package repository defines the task history store shared by the HTTP
// layer and the scheduler recorders.
package repository

import (
	"context"
	"errors"

	"github.com/nadmax/neurosched/internal/repository/models"
	"github.com/nadmax/neurosched/internal/task"
)

var ErrTaskNotFound = errors.New("task not found in history")

type TaskRepository interface {
	RecordTask(ctx context.Context, runID string, t task.Task) error
	GetTask(ctx context.Context, runID string, taskID int64) (*models.TaskRecord, error)
	GetTaskStats(ctx context.Context, hours int) ([]models.TaskStats, error)
	GetRecentTasks(ctx context.Context, limit int) ([]models.TaskRecord, error)
	GetTasksByType(ctx context.Context, taskType string, limit int) ([]models.TaskRecord, error)
	Close() error
}
