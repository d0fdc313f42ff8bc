/*
Package worker runs the dispatch loop between the status queues and the
pipeline executor.

Each dispatcher goroutine repeats: scan the queue kinds in priority
order, claim the oldest queued instance, run its pipeline to
completion, release the claim. When every queue is empty it sleeps for
the poll interval and refreshes the queue depth gauges.

	        ┌─────────────┐   Dequeue    ┌────────────┐
	DB ────▶│ queue.Queue │─────────────▶│ dispatcher │──┐
	status  └─────────────┘   (claimed)  └────────────┘  │ Run
	scan                                                  ▼
	        ┌──────────────┐   publish   ┌──────────────────┐
	        │ events.Broker│◀────────────│ pipeline.Executor│
	        └──────────────┘   outcome   └──────────────────┘

Scan priority per round: resume, destroy, suspend, provision. One run
per scan, then the scan restarts, so queued teardowns and wake-ups are
never stuck behind a burst of new provisions.

Concurrency is per instance, not per step: the queue's claim set keeps
two dispatchers off the same instance, and the status field itself is
the cross-process lock. At-least-once delivery means the rare double
run; pipelines are resumable and idempotent, so it converges.

Shutdown cancels the run context. The executor treats that like a
crash: no status transition, no Failed marking. The instance stays in
its queued status and the next start picks it up where the event log
says it stopped.

# Outcome events

Every finished run publishes one lifecycle event on the broker:
instance.running, instance.destroyed, instance.suspended,
instance.resumed, or instance.failed carrying the pipeline's error
text. The ops API's activity feed and SSE stream hang off these.

# Integration Points

  - pkg/queue: Dequeue/Release and depth gauges
  - pkg/pipeline: Executor.Run drives the dequeued instance
  - pkg/events: outcome publication
  - cmd/hubd: constructs and starts the worker alongside the API server
*/
package worker
