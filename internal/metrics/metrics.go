// Package metrics provides Prometheus metrics for monitoring the scheduler.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurosched_tasks_submitted_total",
			Help: "Total number of tasks submitted to the scheduler",
		},
		[]string{"type", "algorithm"},
	)
	TasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurosched_tasks_dispatched_total",
			Help: "Total number of tasks handed to a worker",
		},
		[]string{"algorithm"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurosched_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
		[]string{"type"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurosched_tasks_failed_total",
			Help: "Total number of tasks whose work item failed",
		},
		[]string{"type"},
	)
	TasksCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurosched_tasks_cancelled_total",
			Help: "Total number of tasks cancelled before dispatch",
		},
		[]string{"type"},
	)
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neurosched_tasks",
			Help: "Current number of registered tasks by status",
		},
		[]string{"status"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurosched_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type", "status"},
	)
	TaskWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurosched_task_wait_time_seconds",
			Help:    "Time tasks spend pending before dispatch",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"type", "priority"},
	)
	AlgorithmSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurosched_algorithm_switches_total",
			Help: "Total number of scheduling algorithm swaps",
		},
		[]string{"from", "to"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurosched_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurosched_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurosched_queue_depth",
			Help: "Current number of entries held by the active scheduling algorithm",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurosched_workers_active",
			Help: "Number of currently running worker goroutines",
		},
	)
)

func RecordTaskSubmitted(taskType, algorithm string) {
	TasksSubmitted.WithLabelValues(taskType, algorithm).Inc()
}

func RecordTaskDispatched(algorithm string) {
	TasksDispatched.WithLabelValues(algorithm).Inc()
}

func RecordTaskCompleted(taskType string, duration time.Duration) {
	TasksCompleted.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType, "completed").Observe(duration.Seconds())
}

func RecordTaskFailed(taskType string, duration time.Duration) {
	TasksFailed.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType, "failed").Observe(duration.Seconds())
}

func RecordTaskCancelled(taskType string) {
	TasksCancelled.WithLabelValues(taskType).Inc()
}

func RecordTaskWaitTime(taskType string, priority int, waitTime time.Duration) {
	TaskWaitTime.WithLabelValues(taskType, strconv.Itoa(priority)).Observe(waitTime.Seconds())
}

func RecordAlgorithmSwitch(from, to string) {
	AlgorithmSwitches.WithLabelValues(from, to).Inc()
}

func UpdateTaskGauges(tasksByStatus map[string]int) {
	TasksByStatus.Reset()
	for status, count := range tasksByStatus {
		TasksByStatus.WithLabelValues(status).Set(float64(count))
	}
}

func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func UpdateActiveWorkers(count int) {
	WorkersActive.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
