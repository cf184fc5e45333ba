// Package metrics exposes workflow execution as Prometheus metrics. The
// Recorder is the engine's MetricsLogger for auto_monitored steps and also
// counts every WorkflowEvent it is fed.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

const namespace = "stepflow"

// Recorder owns a private Prometheus registry so several recorders (one per
// test, say) never collide on metric names.
type Recorder struct {
	registry *prometheus.Registry

	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepAttempts   *prometheus.CounterVec
	events         *prometheus.CounterVec
	runsFinished   *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

var _ workflow.MetricsLogger = (*Recorder)(nil)

// NewRecorder creates a Recorder with its collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Monitored step executions by step, status and deployment mode.",
		}, []string{"step_id", "status", "mode"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of monitored steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step_id"}),
		stepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempts_total",
			Help:      "Activity invocations made by monitored steps, retries included.",
		}, []string{"step_id"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_events_total",
			Help:      "Workflow events by type.",
		}, []string{"type"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route template and status code.",
		}, []string{"method", "route", "code"}),
	}
	r.registry.MustRegister(r.stepExecutions, r.stepDuration, r.stepAttempts, r.events, r.runsFinished, r.httpRequests)
	return r
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// LogStepExecution records one monitored step.
func (r *Recorder) LogStepExecution(_ context.Context, stepID string, result workflow.StepResult) error {
	r.stepExecutions.WithLabelValues(stepID, string(result.Status), string(result.DeploymentMode)).Inc()
	r.stepDuration.WithLabelValues(stepID).Observe(float64(result.DurationMS) / 1000)
	if result.Attempts > 0 {
		r.stepAttempts.WithLabelValues(stepID).Add(float64(result.Attempts))
	}
	return nil
}

// ObserveRequest counts one API request. route is the mux path template,
// not the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveRequest(method, route string, code int) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Observe counts ev, and the run outcome when ev is terminal.
func (r *Recorder) Observe(ev workflow.WorkflowEvent) {
	r.events.WithLabelValues(ev.Type).Inc()
	switch ev.Type {
	case workflow.WERunCompleted, workflow.WERunFailed, workflow.WERunCancelled:
		r.runsFinished.WithLabelValues(ev.Status).Inc()
	}
}

// ConsumeEvents observes events until the channel closes or ctx is done.
func (r *Recorder) ConsumeEvents(ctx context.Context, events <-chan workflow.WorkflowEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Observe(ev)
		}
	}
}
