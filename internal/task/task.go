// Package task defines the task record tracked by the scheduler and the registry that owns it.
package task

import (
	"encoding/json"
	"strings"
	"time"
)

type (
	Status string
	Type   string

	// WorkFunc is the unit of work executed by a worker. A returned error
	// or a panic marks the task as failed.
	WorkFunc func() error

	Task struct {
		ID           int64         `json:"id"`
		Name         string        `json:"name"`
		Type         Type          `json:"type"`
		Status       Status        `json:"status"`
		Priority     int           `json:"priority"`
		Weight       int           `json:"weight"`
		CreatedAt    time.Time     `json:"created_at"`
		StartedAt    *time.Time    `json:"started_at,omitempty"`
		EndedAt      *time.Time    `json:"ended_at,omitempty"`
		Duration     time.Duration `json:"duration"`
		Dependencies []int64       `json:"dependencies,omitempty"`
		Error        string        `json:"error,omitempty"`
		Work         WorkFunc      `json:"-"`
		UserData     any           `json:"-"`
	}
)

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	TypeProcessing    Type = "processing"
	TypeMaintenance   Type = "maintenance"
	TypeCommunication Type = "communication"
	TypeDiagnostics   Type = "diagnostics"
	TypeCustom        Type = "custom"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseType maps a free-form tag onto a known Type. Unknown tags are custom.
func ParseType(s string) Type {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeProcessing, TypeMaintenance, TypeCommunication, TypeDiagnostics:
		return t
	default:
		return TypeCustom
	}
}

func (t Type) String() string {
	return string(t)
}

// WaitTime is the time spent between creation and dispatch.
func (t *Task) WaitTime() (time.Duration, bool) {
	if t.StartedAt == nil {
		return 0, false
	}

	return t.StartedAt.Sub(t.CreatedAt), true
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func TaskFromJSON(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}

	return &t, nil
}

func (t Task) clone() Task {
	if t.Dependencies != nil {
		t.Dependencies = append([]int64(nil), t.Dependencies...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		t.StartedAt = &started
	}
	if t.EndedAt != nil {
		ended := *t.EndedAt
		t.EndedAt = &ended
	}

	return t
}
