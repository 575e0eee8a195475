// Package telemetry aggregates the control core's metrics and component
// loggers. Metrics are prometheus collectors exposed via /metrics on the
// HTTP server.
package telemetry

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry holds the prometheus collectors for one process.
type Telemetry struct {
	TasksTotal          *prometheus.CounterVec
	StepsTotal          *prometheus.CounterVec
	StepRetriesTotal    prometheus.Counter
	ReplansTotal        prometheus.Counter
	ClarificationsTotal prometheus.Counter
	InferenceDuration   prometheus.Histogram
	ToolCallDuration    prometheus.Histogram
	CompactedParts      prometheus.Counter
	CompactedBytes      prometheus.Counter
}

// New creates the collectors and registers them on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use their own.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskwright_tasks_total",
			Help: "Tasks finished, by outcome.",
		}, []string{"outcome"}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskwright_steps_total",
			Help: "Plan steps finished, by terminal status.",
		}, []string{"status"}),
		StepRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskwright_step_retries_total",
			Help: "Step attempts beyond the first.",
		}),
		ReplansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskwright_replans_total",
			Help: "Plans replaced after an escalation.",
		}),
		ClarificationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskwright_clarifications_total",
			Help: "Human clarification requests issued.",
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskwright_inference_duration_seconds",
			Help:    "Latency of inference collaborator calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ToolCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskwright_tool_call_duration_seconds",
			Help:    "Latency of tool handler invocations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		CompactedParts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskwright_compacted_parts_total",
			Help: "History parts removed by compaction passes.",
		}),
		CompactedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskwright_compacted_bytes_total",
			Help: "Content bytes removed by compaction passes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			t.TasksTotal, t.StepsTotal, t.StepRetriesTotal, t.ReplansTotal,
			t.ClarificationsTotal, t.InferenceDuration, t.ToolCallDuration,
			t.CompactedParts, t.CompactedBytes,
		)
	}
	return t
}

// NewNop creates unregistered collectors, for components that may run
// without telemetry wired (tests, one-shot CLI runs).
func NewNop() *Telemetry { return New(nil) }

// RecordTask counts a finished task by outcome.
func (t *Telemetry) RecordTask(outcome string) {
	t.TasksTotal.WithLabelValues(outcome).Inc()
}

// RecordStep counts a finished step by terminal status.
func (t *Telemetry) RecordStep(status string) {
	t.StepsTotal.WithLabelValues(status).Inc()
}

// ObserveInference records the latency of one inference call.
func (t *Telemetry) ObserveInference(d time.Duration) {
	t.InferenceDuration.Observe(d.Seconds())
}

// ObserveToolCall records the latency of one tool invocation.
func (t *Telemetry) ObserveToolCall(d time.Duration) {
	t.ToolCallDuration.Observe(d.Seconds())
}

// RecordCompaction records what one compaction pass removed.
func (t *Telemetry) RecordCompaction(parts, bytes int) {
	if parts > 0 {
		t.CompactedParts.Add(float64(parts))
	}
	if bytes > 0 {
		t.CompactedBytes.Add(float64(bytes))
	}
}

// NewLogger returns a component logger with a bracketed prefix, e.g.
// NewLogger("EXECUTOR") -> "[EXECUTOR] ".
func NewLogger(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.LstdFlags)
}
