// Package dashboard serves aggregate views of the scheduler's tasks for the monitoring UI.
package dashboard

import (
	"net/http"
	"slices"
	"time"

	"github.com/nadmax/neurosched/internal/httputil"
	"github.com/nadmax/neurosched/internal/task"
)

const historyWindow = 24 * time.Hour

type TaskSource interface {
	Tasks() []task.Task
}

type Dashboard struct {
	source TaskSource
	now    func() time.Time
}

type Stats struct {
	TotalTasks      int            `json:"total_tasks"`
	PendingTasks    int            `json:"pending_tasks"`
	RunningTasks    int            `json:"running_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	CancelledTasks  int            `json:"cancelled_tasks"`
	TasksByType     map[string]int `json:"tasks_by_type"`
	AverageWaitTime string         `json:"average_wait_time"`
	LastUpdated     time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID    int64       `json:"task_id"`
	Name      string      `json:"name"`
	Type      task.Type   `json:"type"`
	Status    task.Status `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	EndedAt   *time.Time  `json:"ended_at"`
	Duration  string      `json:"duration"`
	Error     string      `json:"error,omitempty"`
}

func NewDashboard(source TaskSource) *Dashboard {
	return &Dashboard{source: source, now: time.Now}
}

func (d *Dashboard) Stats() Stats {
	tasks := d.source.Tasks()
	stats := Stats{
		TotalTasks:  len(tasks),
		TasksByType: make(map[string]int),
		LastUpdated: d.now(),
	}

	var totalWaitTime time.Duration
	waitCount := 0

	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			stats.PendingTasks++
		case task.StatusRunning:
			stats.RunningTasks++
		case task.StatusCompleted:
			stats.CompletedTasks++
		case task.StatusFailed:
			stats.FailedTasks++
		case task.StatusCancelled:
			stats.CancelledTasks++
		}

		stats.TasksByType[t.Type.String()]++

		if wait, ok := t.WaitTime(); ok {
			totalWaitTime += wait
			waitCount++
		}
	}

	if waitCount > 0 {
		avgWait := totalWaitTime / time.Duration(waitCount)
		stats.AverageWaitTime = avgWait.Round(time.Millisecond).String()
	} else {
		stats.AverageWaitTime = "N/A"
	}

	return stats
}

// History returns tasks that finished within the last 24 hours, most
// recent first.
func (d *Dashboard) History() []TaskHistory {
	cutoff := d.now().Add(-historyWindow)
	history := []TaskHistory{}

	for _, t := range d.source.Tasks() {
		if !t.Status.IsTerminal() || t.EndedAt == nil {
			continue
		}
		if t.EndedAt.Before(cutoff) {
			continue
		}

		var duration string
		if t.StartedAt != nil {
			duration = t.EndedAt.Sub(*t.StartedAt).Round(time.Millisecond).String()
		}

		history = append(history, TaskHistory{
			TaskID:    t.ID,
			Name:      t.Name,
			Type:      t.Type,
			Status:    t.Status,
			CreatedAt: t.CreatedAt,
			EndedAt:   t.EndedAt,
			Duration:  duration,
			Error:     t.Error,
		})
	}

	slices.SortStableFunc(history, func(a, b TaskHistory) int {
		return b.EndedAt.Compare(*a.EndedAt)
	})

	return history
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, d.Stats(), http.StatusOK)
}

func (d *Dashboard) GetRecentTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, d.History(), http.StatusOK)
}
