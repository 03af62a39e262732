// Package scheduling provides the pluggable ordering policies used by the scheduler engine.
//
// An Algorithm only orders task identifiers. It never sees task state, and it
// is not safe for concurrent use: the engine serialises every call under its
// own lock.
package scheduling

import (
	"errors"
	"fmt"
	"strings"
)

// NoTask is returned by SelectNextTask when nothing is available.
const NoTask int64 = -1

const (
	DefaultTimeQuantum = 10
	defaultWeight      = 1
)

type Type string

const (
	TypePriority            Type = "priority"
	// TypeRoundRobin cycles pending entries by insertion order. The engine
	// dispatches each task once, so under the engine it behaves as FIFO.
	TypeRoundRobin          Type = "round_robin"
	TypeWeightedFairQueuing Type = "weighted_fair_queuing"
)

var ErrUnknownAlgorithm = errors.New("unknown scheduling algorithm")

// Entry is the algorithm-side view of a pending task.
type Entry struct {
	ID       int64 `json:"id"`
	Priority int   `json:"priority"`
	Weight   int   `json:"weight"`
}

type Algorithm interface {
	// Initialize clears all state. It must be called before anything else.
	Initialize()
	// SelectNextTask returns the next identifier per policy, or NoTask.
	SelectNextTask() int64
	// AddTask is ignored when id is already present or before Initialize.
	AddTask(id int64, priority int)
	RemoveTask(id int64)
	// UpdateTaskPriority removes and re-adds id, resetting its ordering state.
	UpdateTaskPriority(id int64, priority int)
	TaskCount() int
	IsEmpty() bool
	Type() Type
	// Entries lists the pending entries in the order they would be selected.
	Entries() []Entry
}

// WeightedAlgorithm is implemented by policies that order on task weight.
type WeightedAlgorithm interface {
	Algorithm
	AddWeightedTask(id int64, priority, weight int)
	SetTaskWeight(id int64, weight int)
}

type Config struct {
	// TimeQuantum is the round-robin allotment in abstract ticks.
	TimeQuantum int
}

func DefaultConfig() Config {
	return Config{TimeQuantum: DefaultTimeQuantum}
}

// New constructs an uninitialised algorithm of the given type.
func New(t Type, cfg Config) (Algorithm, error) {
	switch t {
	case TypePriority:
		return NewPriority(), nil
	case TypeRoundRobin:
		return NewRoundRobin(cfg.TimeQuantum), nil
	case TypeWeightedFairQueuing:
		return NewWeightedFairQueuing(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, t)
	}
}

func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "priority", "prio":
		return TypePriority, nil
	case "round_robin", "round-robin", "roundrobin", "rr":
		return TypeRoundRobin, nil
	case "weighted_fair_queuing", "weighted-fair-queuing", "wfq":
		return TypeWeightedFairQueuing, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

func (t Type) String() string {
	return string(t)
}
