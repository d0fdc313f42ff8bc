package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	StepResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_step_results_total",
			Help: "Step phase attempts by pipeline, step, phase, and result",
		},
		[]string{"pipeline", "step", "phase", "result"},
	)

	StepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_step_retries_total",
			Help: "Step attempts beyond the first, by pipeline and step",
		},
		[]string{"pipeline", "step"},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_pipeline_runs_total",
			Help: "Completed pipeline runs by pipeline and outcome",
		},
		[]string{"pipeline", "outcome"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "hub_pipeline_duration_seconds",
			Help: "Wall time of pipeline runs by pipeline and outcome",
			// Pipelines block on engine polls and retry backoff, so the
			// range runs from sub-second no-op resumes to many minutes.
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"pipeline", "outcome"},
	)

	// Inventory metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_instances_total",
			Help: "Managed instances by status",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_queue_depth",
			Help: "Instances waiting in each pipeline's queued status",
		},
		[]string{"pipeline"},
	)

	WorkerIDsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_worker_ids_in_use",
			Help: "Live instances holding an allocated worker ID",
		},
	)

	// Step specials
	ObjectStoreRootFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_objectstore_root_fallback_total",
			Help: "Bucket provisions that fell back to root credentials",
		},
	)

	// Reconciler metrics
	ReconcilerSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_reconciler_sweeps_total",
			Help: "Completed reconciler sweeps",
		},
	)

	ReconcilerDrift = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_reconciler_drift_total",
			Help: "Divergences detected by the reconciler, by check",
		},
		[]string{"check"},
	)

	ReconcilerHeals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_reconciler_heals_total",
			Help: "Self-heal step runs by result",
		},
		[]string{"result"},
	)

	// Federation metrics
	FederationExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_federation_exchanges_total",
			Help: "Bootstrap token exchanges by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_api_requests_total",
			Help: "Total number of ops API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_api_request_duration_seconds",
			Help:    "Ops API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(StepResults)
	prometheus.MustRegister(StepRetries)
	prometheus.MustRegister(PipelineRuns)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(WorkerIDsInUse)
	prometheus.MustRegister(ObjectStoreRootFallback)
	prometheus.MustRegister(ReconcilerSweeps)
	prometheus.MustRegister(ReconcilerDrift)
	prometheus.MustRegister(ReconcilerHeals)
	prometheus.MustRegister(FederationExchanges)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Result label values for StepResults.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
