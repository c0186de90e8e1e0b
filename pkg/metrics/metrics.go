package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry/Bus metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helmsman_nodes_total",
			Help: "Total number of registered nodes by region and status",
		},
		[]string{"region", "status"},
	)

	BusOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_bus_operations_total",
			Help: "Total number of coordination bus operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	BusOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helmsman_bus_operation_duration_seconds",
			Help:    "Coordination bus operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	BusCircuitState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helmsman_bus_circuit_open",
			Help: "Whether the bus circuit breaker is open (1) or closed (0)",
		},
	)

	// Optimizer metrics
	OptimizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_optimizations_total",
			Help: "Total number of placement optimizations by strategy and validity",
		},
		[]string{"strategy", "valid"},
	)

	OptimizationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helmsman_optimization_duration_seconds",
			Help:    "Placement optimization wall-clock duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	OptimizationIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helmsman_optimization_iterations",
			Help:    "Number of generations/iterations consumed by an optimization run",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"strategy"},
	)

	OptimizationBestFitness = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "helmsman_optimization_best_fitness",
			Help: "Best fitness (GA) or lowest energy (SA) observed in the last run",
		},
		[]string{"strategy"},
	)

	// Predictor metrics
	PredictorInferencesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_predictor_inferences_total",
			Help: "Total number of performance predictor inferences",
		},
	)

	PredictorConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helmsman_predictor_confidence",
			Help:    "Confidence score of predictor inferences",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.9, 0.95, 0.99, 1},
		},
	)

	PredictorRetrainsQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_predictor_retrains_queued_total",
			Help: "Total number of retrain tasks enqueued due to drift",
		},
	)

	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_deployments_total",
			Help: "Total number of deployments by strategy and terminal status",
		},
		[]string{"strategy", "status"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helmsman_deployment_duration_seconds",
			Help:    "Deployment duration in seconds by strategy",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"strategy"},
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helmsman_deployment_phase_duration_seconds",
			Help:    "Deployment phase duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"phase"},
	)

	// Rollback metrics
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_rollbacks_total",
			Help: "Total number of rollbacks by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	RollbackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helmsman_rollback_duration_seconds",
			Help:    "Rollback execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Recovery metrics
	RecoveryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helmsman_recovery_queue_depth",
			Help: "Current number of queued recovery executions",
		},
	)

	RecoveryActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helmsman_recovery_active",
			Help: "Current number of in-flight recovery executions",
		},
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_recoveries_total",
			Help: "Total number of recovery executions by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	RecoveryStepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_recovery_step_failures_total",
			Help: "Total number of failed recovery steps by strategy",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		BusOperationsTotal,
		BusOperationDuration,
		BusCircuitState,
		OptimizationsTotal,
		OptimizationDuration,
		OptimizationIterations,
		OptimizationBestFitness,
		PredictorInferencesTotal,
		PredictorConfidence,
		PredictorRetrainsQueued,
		DeploymentsTotal,
		DeploymentDuration,
		PhaseDuration,
		RollbacksTotal,
		RollbackDuration,
		RecoveryQueueDepth,
		RecoveryActive,
		RecoveriesTotal,
		RecoveryStepFailures,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
