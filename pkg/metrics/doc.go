/*
Package metrics provides Prometheus metrics collection and exposition for the hub.

The metrics package defines and registers all hub metrics using the
Prometheus client library, providing observability into pipeline
execution, instance inventory, queue pressure, reconciler drift, and the
ops API. Metrics are exposed via the ops HTTP server for scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry                │           │
	│  │  - Global DefaultRegistry                   │           │
	│  │  - MustRegister at package init             │           │
	│  │  - Automatic Go runtime metrics             │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                 │           │
	│  │                                              │          │
	│  │  Pipeline: step results, retries, run       │           │
	│  │            duration and outcomes            │           │
	│  │  Inventory: instances by status, queue      │           │
	│  │            depth, worker IDs in use         │           │
	│  │  Reconciler: sweeps, drift, heals           │           │
	│  │  Federation: token exchanges by result      │           │
	│  │  API: request count, duration               │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Metrics Endpoint              │           │
	│  │  - Path: /metrics on the ops server         │           │
	│  │  - Format: Prometheus text exposition       │           │
	│  │  - Handler: promhttp.Handler()              │           │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Instrumentation Model

Counters and histograms are incremented at the source: the pipeline
executor records per-phase results, retries, and run durations; the
bucket provisioner counts root-credential fallbacks; the reconciler
counts drift. Inventory gauges are refreshed by the Collector, which
scans the store every 15 seconds, resetting series that emptied out so
no stale value lingers.

# Usage

Recording a pipeline run:

	timer := metrics.NewTimer()
	// ... run pipeline ...
	timer.ObserveDurationVec(metrics.PipelineDuration, "provision", "success")
	metrics.PipelineRuns.WithLabelValues("provision", "success").Inc()

Running the inventory collector:

	c := metrics.NewCollector(store)
	c.Start()
	defer c.Stop()

# Key Metrics

	hub_step_results_total{pipeline,step,phase,result}
	hub_step_retries_total{pipeline,step}
	hub_pipeline_runs_total{pipeline,outcome}
	hub_pipeline_duration_seconds{pipeline,outcome}
	hub_instances_total{status}
	hub_queue_depth{pipeline}
	hub_worker_ids_in_use
	hub_objectstore_root_fallback_total
	hub_reconciler_sweeps_total
	hub_reconciler_drift_total{check}
	hub_federation_exchanges_total{result}

# Integration Points

  - pkg/pipeline: step and run instrumentation
  - pkg/worker: run outcome counters
  - pkg/reconciler: sweep and drift counters
  - pkg/api: /metrics exposition, request middleware
  - cmd/hubd: starts the Collector alongside the worker
*/
package metrics
