package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTasksTotal    = "lithelper.tasks.total"
	metricTaskDuration  = "lithelper.task.duration.seconds"
	metricErrorsTotal   = "lithelper.errors.total"
	metricInflightTasks = "lithelper.inflight.tasks"

	attrHandler = "handler"
	attrKind    = "kind"
	attrStatus  = "status"

	statusError = "error"
)

// durationBucketBoundaries covers 10ms to 600s: queue admissions are
// sub-millisecond while organize tasks wait on external AI calls.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// TaskMetrics holds the OTel instruments recorded by executors per task.
type TaskMetrics struct {
	tasksTotal    metric.Int64Counter
	taskDuration  metric.Float64Histogram
	errorsTotal   metric.Int64Counter
	inflightTasks metric.Int64UpDownCounter
}

// NewTaskMetrics creates task metric instruments from the given meter.
func NewTaskMetrics(mt metric.Meter) (*TaskMetrics, error) {
	b := newMetricBuilder(mt)

	tm := &TaskMetrics{
		tasksTotal:    b.counter(metricTasksTotal, "Total number of executed tasks", "{task}"),
		taskDuration:  b.histogram(metricTaskDuration, "Task execution duration in seconds", "s", durationBucketBoundaries...),
		errorsTotal:   b.counter(metricErrorsTotal, "Total number of failed tasks", "{error}"),
		inflightTasks: b.upDownCounter(metricInflightTasks, "Number of in-flight tasks", "{task}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return tm, nil
}

// RecordTask records a finished task with its handler, kind, terminal status,
// and duration.
func (tm *TaskMetrics) RecordTask(ctx context.Context, handler, kind, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrHandler, handler),
		attribute.String(attrKind, kind),
		attribute.String(attrStatus, status),
	)

	tm.tasksTotal.Add(ctx, 1, attrs)
	tm.taskDuration.Record(ctx, duration.Seconds(), attrs)

	if status == statusError {
		tm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrHandler, handler),
			attribute.String(attrKind, kind),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (tm *TaskMetrics) TrackInflight(ctx context.Context, handler string) func() {
	attrs := metric.WithAttributes(attribute.String(attrHandler, handler))
	tm.inflightTasks.Add(ctx, 1, attrs)

	return func() {
		tm.inflightTasks.Add(ctx, -1, attrs)
	}
}
