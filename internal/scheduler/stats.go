package scheduler

import (
	"time"

	"github.com/nadmax/neurosched/internal/task"
)

type counters struct {
	completed      int
	failed         int
	cancelled      int
	totalExecution time.Duration
}

// Statistics is a point-in-time snapshot of the engine.
type Statistics struct {
	TotalTasks           int           `json:"total_tasks"`
	RunningTasks         int           `json:"running_tasks"`
	PendingTasks         int           `json:"pending_tasks"`
	CompletedTasks       int           `json:"completed_tasks"`
	FailedTasks          int           `json:"failed_tasks"`
	CancelledTasks       int           `json:"cancelled_tasks"`
	TotalExecutionTime   time.Duration `json:"total_execution_time"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
}

func (e *Engine) Statistics() Statistics {
	var stats Statistics

	if registry := e.currentRegistry(); registry != nil {
		stats.TotalTasks = registry.Count()
		stats.RunningTasks = registry.CountByStatus(task.StatusRunning)
		stats.PendingTasks = registry.CountByStatus(task.StatusPending)
	}

	e.statsMu.Lock()
	c := e.stats
	e.statsMu.Unlock()

	stats.CompletedTasks = c.completed
	stats.FailedTasks = c.failed
	stats.CancelledTasks = c.cancelled
	stats.TotalExecutionTime = c.totalExecution
	if finished := c.completed + c.failed + c.cancelled; finished > 0 {
		stats.AverageExecutionTime = c.totalExecution / time.Duration(finished)
	}

	return stats
}

// TaskStatus reports the status of id. Unknown tasks report pending.
func (e *Engine) TaskStatus(id int64) task.Status {
	if t, ok := e.Task(id); ok {
		return t.Status
	}

	return task.StatusPending
}

func (e *Engine) Task(id int64) (task.Task, bool) {
	registry := e.currentRegistry()
	if registry == nil {
		return task.Task{}, false
	}

	return registry.Get(id)
}

func (e *Engine) Tasks() []task.Task {
	registry := e.currentRegistry()
	if registry == nil {
		return nil
	}

	return registry.List()
}

func (e *Engine) TasksByStatus(status task.Status) []task.Task {
	registry := e.currentRegistry()
	if registry == nil {
		return nil
	}

	return registry.ListByStatus(status)
}

func (e *Engine) TasksByType(taskType task.Type) []task.Task {
	registry := e.currentRegistry()
	if registry == nil {
		return nil
	}

	return registry.ListByType(taskType)
}

func (e *Engine) TaskCount() int {
	registry := e.currentRegistry()
	if registry == nil {
		return 0
	}

	return registry.Count()
}

func (e *Engine) RunningTaskCount() int {
	registry := e.currentRegistry()
	if registry == nil {
		return 0
	}

	return registry.CountByStatus(task.StatusRunning)
}

func (e *Engine) PendingTaskCount() int {
	registry := e.currentRegistry()
	if registry == nil {
		return 0
	}

	return registry.CountByStatus(task.StatusPending)
}
