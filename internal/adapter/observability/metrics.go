// Package observability provides logging, metrics, and tracing for the
// purchase-order workflow orchestration core.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts control-surface HTTP requests by route,
	// method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of control-surface HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// StageJobsEnqueuedTotal counts stage jobs enqueued by stage.
	StageJobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_jobs_enqueued_total",
			Help: "Total number of stage jobs enqueued",
		},
		[]string{"stage"},
	)
	// StageJobsProcessing is a gauge of stage jobs currently processing, by stage.
	StageJobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stage_jobs_processing",
			Help: "Number of stage jobs currently processing",
		},
		[]string{"stage"},
	)
	// StageJobsCompletedTotal counts stage jobs completed by stage.
	StageJobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_jobs_completed_total",
			Help: "Total number of stage jobs completed",
		},
		[]string{"stage"},
	)
	// StageJobsFailedTotal counts stage jobs failed by stage and failure kind.
	StageJobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_jobs_failed_total",
			Help: "Total number of stage jobs failed",
		},
		[]string{"stage", "kind"},
	)
	// StageDuration records per-stage processing duration.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_duration_seconds",
			Help:    "Stage processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 90},
		},
		[]string{"stage"},
	)

	// WorkflowsCompletedTotal counts workflows completed.
	WorkflowsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflows_completed_total",
			Help: "Total number of workflows completed",
		},
	)
	// WorkflowsFailedTotal counts workflows failed.
	WorkflowsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workflows_failed_total",
			Help: "Total number of workflows failed",
		},
	)

	// JanitorSweepsTotal counts janitor sweep runs.
	JanitorSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "janitor_sweeps_total",
			Help: "Total number of janitor sweep runs",
		},
	)
	// JanitorRecoveredTotal counts stuck workflows recovered by the janitor.
	JanitorRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "janitor_recovered_total",
			Help: "Total number of stuck workflows recovered by the janitor",
		},
	)

	// FuzzyMatchEngineUsedTotal counts fuzzy-match resolutions by engine.
	FuzzyMatchEngineUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fuzzy_match_engine_used_total",
			Help: "Total number of fuzzy-match resolutions by engine",
		},
		[]string{"engine"},
	)
	// FuzzyMatchFallbackTotal counts Engine B -> Engine A fallbacks.
	FuzzyMatchFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fuzzy_match_fallback_total",
			Help: "Total number of fuzzy-match fallbacks from Engine B to Engine A",
		},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)

	// ExternalCallsTotal counts outbound calls to external collaborators
	// (extractor, image source, external sink, object store) by connection
	// type, operation, and outcome status.
	ExternalCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_calls_total",
			Help: "Total number of outbound calls to external collaborators",
		},
		[]string{"connection_type", "operation", "status"},
	)
	// ExternalCallDuration records outbound external-collaborator call
	// duration by connection type and operation.
	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_call_duration_seconds",
			Help:    "External collaborator call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"connection_type", "operation"},
	)

	// WorkflowsByStatus is a point-in-time gauge of workflow counts per
	// status, refreshed by the Tick Dispatcher each cycle.
	WorkflowsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflows_by_status",
			Help: "Number of workflows currently in each status",
		},
		[]string{"status"},
	)
	// WorkflowAverageCompletionSeconds is a gauge of the average wall-clock
	// time between workflow creation and completion, refreshed by the Tick
	// Dispatcher each cycle.
	WorkflowAverageCompletionSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflow_average_completion_seconds",
			Help: "Average time between workflow creation and completion",
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(StageJobsEnqueuedTotal)
	prometheus.MustRegister(StageJobsProcessing)
	prometheus.MustRegister(StageJobsCompletedTotal)
	prometheus.MustRegister(StageJobsFailedTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(WorkflowsCompletedTotal)
	prometheus.MustRegister(WorkflowsFailedTotal)
	prometheus.MustRegister(JanitorSweepsTotal)
	prometheus.MustRegister(JanitorRecoveredTotal)
	prometheus.MustRegister(FuzzyMatchEngineUsedTotal)
	prometheus.MustRegister(FuzzyMatchFallbackTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(ExternalCallsTotal)
	prometheus.MustRegister(ExternalCallDuration)
	prometheus.MustRegister(WorkflowsByStatus)
	prometheus.MustRegister(WorkflowAverageCompletionSeconds)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueStage increments the enqueued-stage-jobs counter for the given stage.
func EnqueueStage(stage string) {
	StageJobsEnqueuedTotal.WithLabelValues(stage).Inc()
}

// StartStage increments the processing gauge for the given stage.
func StartStage(stage string) {
	StageJobsProcessing.WithLabelValues(stage).Inc()
}

// CompleteStage marks a stage complete: decrements processing, increments
// completed, and records its duration.
func CompleteStage(stage string, duration time.Duration) {
	StageJobsProcessing.WithLabelValues(stage).Dec()
	StageJobsCompletedTotal.WithLabelValues(stage).Inc()
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// FailStage marks a stage failed by kind (transient, persistent, non_fatal).
func FailStage(stage, kind string) {
	StageJobsProcessing.WithLabelValues(stage).Dec()
	StageJobsFailedTotal.WithLabelValues(stage, kind).Inc()
}

// CompleteWorkflow increments the workflows-completed counter.
func CompleteWorkflow() { WorkflowsCompletedTotal.Inc() }

// FailWorkflow increments the workflows-failed counter.
func FailWorkflow() { WorkflowsFailedTotal.Inc() }

// RecordJanitorSweep increments the janitor sweep counter and adds the
// number of workflows recovered during that sweep.
func RecordJanitorSweep(recovered int) {
	JanitorSweepsTotal.Inc()
	JanitorRecoveredTotal.Add(float64(recovered))
}

// RecordFuzzyMatchEngine records which fuzzy-match engine resolved a lookup.
func RecordFuzzyMatchEngine(engine string) {
	FuzzyMatchEngineUsedTotal.WithLabelValues(engine).Inc()
}

// RecordFuzzyMatchFallback records an Engine B -> Engine A fallback.
func RecordFuzzyMatchFallback() {
	FuzzyMatchFallbackTotal.Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
