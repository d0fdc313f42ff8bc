/*
Package queue implements the database-backed work queue.

There is no queue table. An instance is enqueued by transitioning its
status to the pipeline's queued status (provisioning, destroying,
suspending, resuming) and dequeued by scanning for the oldest live row
in that status. The status field is also the per-instance lock: a row
in a queued status belongs to exactly one pipeline at a time.

	enqueue:  UPDATE managed_instances SET status = <queued> WHERE id = ?
	dequeue:  SELECT ... WHERE status = <queued> AND deleted_at IS NULL
	          ORDER BY created_at ASC LIMIT 1

This gives FIFO within a status group, at-least-once delivery (a
crashed worker leaves the row visible), and trivial crash recovery (a
restart simply re-dequeues whatever was in flight).

An in-process claim set sits on top so multiple dispatcher goroutines
inside one orchestrator never run the same instance. Claims are not
persisted; they vanish with the process, which is exactly the recovery
behavior the status scan relies on.

# Usage

	q := queue.New(store)

	// API handler or CLI side:
	err := q.Enqueue(ctx, instanceID, types.PipelineDestroy)

	// Worker side:
	instance, err := q.Dequeue(ctx, types.PipelineProvision)
	if errors.Is(err, queue.ErrEmpty) {
		// sleep and poll again
	}
	defer q.Release(instance.ID)

# Integration Points

  - pkg/worker: dequeues and dispatches to pipelines
  - pkg/reconciler: TryClaim while repairing a running instance
  - pkg/api: queue stats on the ops surface
  - pkg/metrics: depth gauges
*/
package queue
