// Package models contains data structures used by the task repository layer.
package models

import "time"

type TaskStats struct {
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
	MinDurationMs int64   `json:"min_duration_ms"`
	AvgPriority   float64 `json:"avg_priority"`
}

// TaskRecord is one row of task_history.
type TaskRecord struct {
	RunID        string     `json:"run_id"`
	TaskID       int64      `json:"task_id"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	Weight       int        `json:"weight"`
	Dependencies []int64    `json:"dependencies,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
	Error        string     `json:"error,omitempty"`
}
