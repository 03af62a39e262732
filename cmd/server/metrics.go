package main

import (
	"context"
	"time"

	"github.com/nadmax/neurosched/internal/metrics"
	"github.com/nadmax/neurosched/internal/task"
)

type engineSnapshot interface {
	Tasks() []task.Task
	QueueDepth() int
	RunningTaskCount() int
}

func startMetricsCollector(ctx context.Context, engine engineSnapshot, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updateEngineMetrics(engine)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateEngineMetrics(engine)
		}
	}
}

func updateEngineMetrics(engine engineSnapshot) {
	byStatus := make(map[string]int)
	for _, t := range engine.Tasks() {
		byStatus[string(t.Status)]++
	}

	metrics.UpdateTaskGauges(byStatus)
	metrics.UpdateQueueDepth(engine.QueueDepth())
	metrics.UpdateActiveWorkers(engine.RunningTaskCount())
}
