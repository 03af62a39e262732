// Package worker provides the execution boundary for a single dispatched task.
package worker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nadmax/neurosched/internal/task"
	"github.com/rs/zerolog"
)

var ErrNoWork = errors.New("task has no work item")

// PanicError wraps a value recovered from a panicking work item.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

type Result struct {
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Err       error
}

// Status maps the outcome onto the terminal task status.
func (r Result) Status() task.Status {
	if r.Err != nil {
		return task.StatusFailed
	}
	return task.StatusCompleted
}

type Executor struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewExecutor(logger zerolog.Logger) *Executor {
	return &Executor{logger: logger, now: time.Now}
}

// Execute runs t's work item to completion. Errors and panics raised by the
// work item are captured in the result and never propagate.
func (e *Executor) Execute(t task.Task) Result {
	res := Result{StartedAt: e.now()}

	e.logger.Debug().
		Int64("task_id", t.ID).
		Str("name", t.Name).
		Str("type", t.Type.String()).
		Msg("processing task")

	res.Err = e.invoke(t.Work)
	res.EndedAt = e.now()
	res.Duration = res.EndedAt.Sub(res.StartedAt)

	if res.Err != nil {
		evt := e.logger.Warn().
			Int64("task_id", t.ID).
			Err(res.Err).
			Dur("duration", res.Duration)

		var perr *PanicError
		if errors.As(res.Err, &perr) {
			evt = evt.Bytes("stack", perr.Stack)
		}
		evt.Msg("task failed")

		return res
	}

	e.logger.Debug().
		Int64("task_id", t.ID).
		Dur("duration", res.Duration).
		Msg("task completed successfully")

	return res
}

func (e *Executor) invoke(work task.WorkFunc) (err error) {
	if work == nil {
		return ErrNoWork
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	return work()
}
