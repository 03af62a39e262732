// Package scheduler implements the engine that owns the task registry, drives
// the active scheduling algorithm and runs every dispatched task on its own
// goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/neurosched/internal/metrics"
	"github.com/nadmax/neurosched/internal/scheduling"
	"github.com/nadmax/neurosched/internal/task"
	"github.com/nadmax/neurosched/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// InvalidTaskID is returned by AddTask on failure.
const InvalidTaskID int64 = -1

var (
	ErrNotInitialized = errors.New("scheduler not initialized")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNoAlgorithm    = errors.New("no active scheduling algorithm")
	ErrInvalidWeight  = errors.New("task weight must be positive")
)

type State int32

const (
	StateUninitialized State = iota
	StateStopped
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return "uninitialized"
	}
}

// Recorder receives a copy of every task that reaches a terminal status.
type Recorder interface {
	RecordTask(ctx context.Context, runID string, t task.Task) error
}

type Config struct {
	Logger zerolog.Logger
	// DispatchInterval bounds how often the dispatch loop selects a task.
	DispatchInterval time.Duration
	TimeQuantum      int
	Recorders        []Recorder
	RecordTimeout    time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Logger:           zerolog.Nop(),
		DispatchInterval: time.Millisecond,
		TimeQuantum:      scheduling.DefaultTimeQuantum,
		RecordTimeout:    5 * time.Second,
	}
}

type Engine struct {
	mu            sync.Mutex
	cond          *sync.Cond
	state         State
	algorithm     scheduling.Algorithm
	algorithmType scheduling.Type
	registry      *task.Registry
	workers       map[int64]chan struct{}
	workerWG      sync.WaitGroup
	eg            *errgroup.Group
	stop          chan struct{}
	runID         string

	statsMu sync.Mutex
	stats   counters

	executor *worker.Executor
	logger   zerolog.Logger
	config   Config
}

func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.DispatchInterval < 0 {
		c.DispatchInterval = 0
	}
	if c.TimeQuantum <= 0 {
		c.TimeQuantum = scheduling.DefaultTimeQuantum
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 5 * time.Second
	}

	e := &Engine{
		workers:  make(map[int64]chan struct{}),
		executor: worker.NewExecutor(c.Logger),
		logger:   c.Logger,
		config:   c,
	}
	e.cond = sync.NewCond(&e.mu)

	return e
}

// Initialize installs a fresh algorithm of the given type and an empty
// registry. It fails for unknown types and while the engine is running.
func (e *Engine) Initialize(algorithmType scheduling.Type) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return ErrAlreadyRunning
	}

	alg, err := e.newAlgorithm(algorithmType)
	if err != nil {
		return err
	}

	e.algorithm = alg
	e.algorithmType = algorithmType
	e.registry = task.NewRegistry()
	e.runID = uuid.New().String()
	e.state = StateStopped

	e.statsMu.Lock()
	e.stats = counters{}
	e.statsMu.Unlock()

	e.logger.Info().
		Str("algorithm", algorithmType.String()).
		Str("run_id", e.runID).
		Msg("scheduler initialized")

	return nil
}

// Start launches the dispatch loop. It is a no-op when already running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateRunning:
		return nil
	}

	e.state = StateRunning
	e.stop = make(chan struct{})
	e.eg = new(errgroup.Group)
	stop := e.stop
	e.eg.Go(func() error {
		return e.dispatchLoop(stop)
	})

	e.logger.Info().Str("algorithm", e.algorithmType.String()).Msg("scheduler started")

	return nil
}

// Stop halts the dispatch loop and blocks until every in-flight task has
// finished. It is a no-op unless the engine is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	close(e.stop)
	e.cond.Broadcast()
	eg := e.eg
	e.mu.Unlock()

	if err := eg.Wait(); err != nil {
		e.logger.Error().Err(err).Msg("dispatch loop exited with error")
	}

	e.workerWG.Wait()

	e.mu.Lock()
	clear(e.workers)
	e.mu.Unlock()

	metrics.UpdateActiveWorkers(0)
	e.logger.Info().Msg("scheduler stopped")
}

// AddTask registers a task and queues it with the active algorithm.
func (e *Engine) AddTask(name string, taskType task.Type, priority, weight int, work task.WorkFunc, userData any) (int64, error) {
	if weight <= 0 {
		return InvalidTaskID, ErrInvalidWeight
	}

	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return InvalidTaskID, ErrNotRunning
	}
	if e.algorithm == nil {
		e.mu.Unlock()
		return InvalidTaskID, ErrNoAlgorithm
	}

	id := e.registry.Create(name, taskType, priority, weight, work, userData)
	e.enqueueLocked(scheduling.Entry{ID: id, Priority: priority, Weight: weight})
	algorithmType := e.algorithmType
	e.cond.Signal()
	e.mu.Unlock()

	metrics.RecordTaskSubmitted(taskType.String(), algorithmType.String())
	e.logger.Debug().
		Int64("task_id", id).
		Str("name", name).
		Int("priority", priority).
		Int("weight", weight).
		Msg("task submitted")

	return id, nil
}

// RemoveTask drops a task from the algorithm and the registry. A running
// task keeps executing but its outcome is no longer recorded.
func (e *Engine) RemoveTask(id int64) bool {
	e.mu.Lock()
	if e.algorithm != nil {
		e.algorithm.RemoveTask(id)
	}
	registry := e.registry
	e.mu.Unlock()

	if registry == nil {
		return false
	}

	return registry.Delete(id)
}

func (e *Engine) UpdateTaskPriority(id int64, priority int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry == nil || !e.registry.UpdatePriority(id, priority) {
		return false
	}
	if e.algorithm != nil {
		e.algorithm.UpdateTaskPriority(id, priority)
	}

	return true
}

// UpdateTaskWeight updates the registry and, when the active algorithm
// orders on weight, the pending entry as well.
func (e *Engine) UpdateTaskWeight(id int64, weight int) bool {
	if weight <= 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry == nil || !e.registry.UpdateWeight(id, weight) {
		return false
	}
	if weighted, ok := e.algorithm.(scheduling.WeightedAlgorithm); ok {
		weighted.SetTaskWeight(id, weight)
	}

	return true
}

// CancelTask cancels a task that has not been dispatched yet. Running tasks
// cannot be interrupted.
func (e *Engine) CancelTask(id int64) bool {
	e.mu.Lock()
	if e.registry == nil {
		e.mu.Unlock()
		return false
	}

	// dispatch claims tasks outside e.mu; only one of the two may win.
	if !e.registry.Transition(id, task.StatusPending, task.StatusCancelled) {
		e.mu.Unlock()
		return false
	}
	if e.algorithm != nil {
		e.algorithm.RemoveTask(id)
	}
	registry := e.registry
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.cancelled++
	e.statsMu.Unlock()

	e.logger.Info().Int64("task_id", id).Msg("task cancelled")

	if cancelled, ok := registry.Get(id); ok {
		metrics.RecordTaskCancelled(cancelled.Type.String())
		e.record(cancelled)
	}

	return true
}

func (e *Engine) AddTaskDependency(id, dep int64) bool {
	registry := e.currentRegistry()
	if registry == nil {
		return false
	}

	return registry.AddDependency(id, dep)
}

func (e *Engine) RemoveTaskDependency(id, dep int64) bool {
	registry := e.currentRegistry()
	if registry == nil {
		return false
	}

	return registry.RemoveDependency(id, dep)
}

// SetSchedulingAlgorithm swaps the active algorithm. Entries still pending
// in the previous algorithm are re-added to the new one in their previous
// dispatch order.
func (e *Engine) SetSchedulingAlgorithm(algorithmType scheduling.Type) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateUninitialized {
		return ErrNotInitialized
	}

	alg, err := e.newAlgorithm(algorithmType)
	if err != nil {
		return err
	}

	var pending []scheduling.Entry
	if e.algorithm != nil {
		pending = e.algorithm.Entries()
	}

	previous := e.algorithmType
	e.algorithm = alg
	e.algorithmType = algorithmType
	for _, entry := range pending {
		if t, ok := e.registry.Get(entry.ID); ok {
			entry.Weight = t.Weight
		}
		e.enqueueLocked(entry)
	}
	e.cond.Signal()

	metrics.RecordAlgorithmSwitch(previous.String(), algorithmType.String())
	e.logger.Info().
		Str("from", previous.String()).
		Str("to", algorithmType.String()).
		Int("migrated", len(pending)).
		Msg("scheduling algorithm changed")

	return nil
}

func (e *Engine) AlgorithmType() scheduling.Type {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.algorithmType
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// RunID identifies the current initialization; task ids restart with it.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.runID
}

// QueueDepth is the number of entries waiting in the active algorithm.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.algorithm == nil {
		return 0
	}

	return e.algorithm.TaskCount()
}

func (e *Engine) newAlgorithm(algorithmType scheduling.Type) (scheduling.Algorithm, error) {
	alg, err := scheduling.New(algorithmType, scheduling.Config{TimeQuantum: e.config.TimeQuantum})
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to create scheduling algorithm")
		return nil, fmt.Errorf("failed to create algorithm: %w", err)
	}
	alg.Initialize()

	return alg, nil
}

func (e *Engine) enqueueLocked(entry scheduling.Entry) {
	if weighted, ok := e.algorithm.(scheduling.WeightedAlgorithm); ok {
		weighted.AddWeightedTask(entry.ID, entry.Priority, entry.Weight)
		return
	}
	e.algorithm.AddTask(entry.ID, entry.Priority)
}

func (e *Engine) currentRegistry() *task.Registry {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.registry
}
