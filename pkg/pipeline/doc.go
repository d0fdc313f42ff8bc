// Package pipeline contains the step contract, the error taxonomy, and
// the executor that drives ordered step lists against one instance.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────┐
//	│                        Executor                        │
//	│                                                        │
//	│  resume point ◄── event log (storage.ListEvents)       │
//	│       │                                                │
//	│       ▼                                                │
//	│  for each remaining step:                              │
//	│    execute ──► verify        (each phase: ≤3 attempts, │
//	│       │            │          backoff 5s/10s/20s)      │
//	│       ▼            ▼                                   │
//	│  InProgress → Completed|Failed event rows              │
//	│                                                        │
//	│  then: assert terminal status, or run Finalize         │
//	└────────────────────────────────────────────────────────┘
//
// # Event model
//
// Every phase attempt inserts an InProgress ProvisioningEvent and
// updates that same row to Completed or Failed when the phase returns.
// The log is append-only per attempt: retries produce new rows, never
// rewrites. A step is "applied" iff a Completed execute row and a
// Completed verify row both exist for it, which is exactly what the
// resume scan looks for. An executor killed between a step's side
// effect and its Completed row simply re-runs that step on resume;
// steps are idempotent so the world ends up the same.
//
// # Retry discipline
//
// Failures are classified by their stable code. Fatal codes (bad input,
// missing internal state) abort the run immediately. Everything else is
// retried up to MaxRetries per phase with fixed backoff, then wrapped
// in a MAX_RETRIES_EXCEEDED envelope. A recovered panic is converted to
// STEP_EXCEPTION and retried like any transient failure.
//
// Failure handling then depends on the pipeline. Provisioning marks the
// instance Failed and stops; the event log explains which step and why.
// Best-effort pipelines (destruction, suspend, resume) log the failure
// and keep going, because convergence matters more than any one
// resource: destruction still tombstones the worker ID and soft-deletes
// the row in its Finalize hook even when every driver call 404'd.
//
// Context cancellation is neither: the run stops where it is, status is
// left untouched, and the queue redelivers the instance later.
//
// # Integration Points
//
//   - pkg/provision, pkg/destroy, pkg/lifecycle: define the Pipelines
//   - pkg/worker: dequeues instances and calls Run
//   - pkg/reconciler: calls RunStep to re-run single drifted steps
//   - pkg/storage: event log and status transitions
//   - pkg/metrics: per-phase results, retries, run outcomes, durations
package pipeline
