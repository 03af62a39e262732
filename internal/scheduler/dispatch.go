package scheduler

import (
	"context"
	"time"

	"github.com/nadmax/neurosched/internal/metrics"
	"github.com/nadmax/neurosched/internal/scheduling"
	"github.com/nadmax/neurosched/internal/task"
)

// dispatchLoop selects and dispatches one task per iteration until stop is
// closed, pausing DispatchInterval between selections.
func (e *Engine) dispatchLoop(stop <-chan struct{}) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		e.mu.Lock()
		for e.state == StateRunning && (e.algorithm == nil || e.algorithm.IsEmpty()) {
			e.cond.Wait()
		}
		if e.state != StateRunning {
			e.mu.Unlock()
			return nil
		}

		id := e.algorithm.SelectNextTask()
		// Round-robin keeps selected entries in its cycle; a task is
		// dispatched once, so retire the entry here.
		e.algorithm.RemoveTask(id)
		algorithmType := e.algorithmType
		e.mu.Unlock()

		if id != scheduling.NoTask {
			e.dispatch(id, algorithmType)
		}

		if e.config.DispatchInterval > 0 {
			if timer == nil {
				timer = time.NewTimer(e.config.DispatchInterval)
			} else {
				timer.Reset(e.config.DispatchInterval)
			}
			select {
			case <-timer.C:
			case <-stop:
				return nil
			}
		}
	}
}

func (e *Engine) dispatch(id int64, algorithmType scheduling.Type) {
	registry := e.currentRegistry()

	if !registry.Transition(id, task.StatusPending, task.StatusRunning) {
		e.logger.Debug().Int64("task_id", id).Msg("skipping task no longer pending")
		return
	}
	t, ok := registry.Get(id)
	if !ok {
		return
	}

	done := make(chan struct{})

	e.mu.Lock()
	e.workers[id] = done
	e.workerWG.Add(1)
	active := len(e.workers)
	e.mu.Unlock()

	metrics.RecordTaskDispatched(algorithmType.String())
	metrics.UpdateActiveWorkers(active)
	if wait, ok := t.WaitTime(); ok {
		metrics.RecordTaskWaitTime(t.Type.String(), t.Priority, wait)
	}

	e.logger.Debug().
		Int64("task_id", id).
		Str("algorithm", algorithmType.String()).
		Msg("task dispatched")

	go e.runWorker(registry, id, done)
}

func (e *Engine) runWorker(registry *task.Registry, id int64, done chan struct{}) {
	defer e.workerWG.Done()
	defer func() {
		e.mu.Lock()
		if e.workers[id] == done {
			delete(e.workers, id)
		}
		active := len(e.workers)
		e.mu.Unlock()

		close(done)
		metrics.UpdateActiveWorkers(active)
	}()

	t, ok := registry.Get(id)
	if !ok {
		return
	}

	res := e.executor.Execute(t)
	status := res.Status()

	if res.Err != nil {
		registry.SetError(id, res.Err.Error())
	}
	if !registry.UpdateStatus(id, status) {
		e.logger.Debug().
			Int64("task_id", id).
			Str("status", string(status)).
			Msg("discarding outcome of task no longer tracked")
		return
	}

	e.statsMu.Lock()
	switch status {
	case task.StatusCompleted:
		e.stats.completed++
	case task.StatusFailed:
		e.stats.failed++
	}
	e.stats.totalExecution += res.Duration
	e.statsMu.Unlock()

	switch status {
	case task.StatusCompleted:
		metrics.RecordTaskCompleted(t.Type.String(), res.Duration)
	case task.StatusFailed:
		metrics.RecordTaskFailed(t.Type.String(), res.Duration)
	}

	if finished, ok := registry.Get(id); ok {
		e.record(finished)
	}
}

// record hands a finished task to every configured recorder. Recorder
// failures are logged and otherwise ignored.
func (e *Engine) record(t task.Task) {
	if len(e.config.Recorders) == 0 {
		return
	}

	runID := e.RunID()
	ctx, cancel := context.WithTimeout(context.Background(), e.config.RecordTimeout)
	defer cancel()

	for _, r := range e.config.Recorders {
		if err := r.RecordTask(ctx, runID, t); err != nil {
			e.logger.Warn().
				Err(err).
				Int64("task_id", t.ID).
				Str("run_id", runID).
				Msg("failed to record task")
		}
	}
}

// Wait blocks until the task with id has finished executing or ctx is done.
// It returns immediately when the task is not currently running.
func (e *Engine) Wait(ctx context.Context, id int64) error {
	e.mu.Lock()
	done, ok := e.workers[id]
	e.mu.Unlock()

	if !ok {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
