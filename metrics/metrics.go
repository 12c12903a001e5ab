// Package metrics wires the executor's ambient Prometheus collectors:
// step counts by type/outcome, a step duration histogram, checkpoint
// saves, and an active-runs gauge.
package metrics

import (
	"time"

	"github.com/maverick-run/maverick/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder wraps the four collectors and attaches itself to an
// Executor's event stream via Observe. A nil *Recorder is valid and a
// no-op, so callers that don't want metrics can skip construction.
type Recorder struct {
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	checkpointsTotal prometheus.Counter
	activeRuns       prometheus.Gauge
}

// New registers the collectors against reg, which is never the global
// default registry — each caller (test, server instance) gets an isolated
// *prometheus.Registry instead of relying on process globals.
func New(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maverick_steps_total",
			Help: "Total workflow steps executed, by type and outcome.",
		}, []string{"step_type", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maverick_step_duration_seconds",
			Help:    "Step execution duration in seconds, by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step_type"}),
		checkpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maverick_checkpoints_saved_total",
			Help: "Total checkpoints saved.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maverick_active_runs",
			Help: "Number of workflow runs currently executing.",
		}),
	}
	reg.MustRegister(r.stepsTotal, r.stepDuration, r.checkpointsTotal, r.activeRuns)
	return r
}

// RunStarted/RunFinished bracket a Run call so activeRuns stays accurate
// even when the run panics or is cancelled.
func (r *Recorder) RunStarted() {
	if r == nil {
		return
	}
	r.activeRuns.Inc()
}

func (r *Recorder) RunFinished() {
	if r == nil {
		return
	}
	r.activeRuns.Dec()
}

// Observe is an workflow.EventCallback to chain onto Executor.OnEvent: it
// reads StepCompleted/CheckpointSaved events and updates the collectors.
func (r *Recorder) Observe(ev workflow.Event) {
	if r == nil {
		return
	}
	switch ev.Type {
	case workflow.EventStepCompleted:
		outcome := "success"
		if ev.Success != nil && !*ev.Success {
			outcome = "failure"
		}
		r.stepsTotal.WithLabelValues(string(ev.StepType), outcome).Inc()
		r.stepDuration.WithLabelValues(string(ev.StepType)).Observe(time.Duration(ev.DurationMS * int64(time.Millisecond)).Seconds())
	case workflow.EventCheckpointSaved:
		r.checkpointsTotal.Inc()
	}
}
