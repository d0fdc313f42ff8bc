package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

var (
	// ErrEmpty is returned by Dequeue when no unclaimed instance is queued
	// for the given pipeline kind.
	ErrEmpty = errors.New("queue is empty")
	// ErrIllegalTransition is returned by Enqueue when the instance's
	// current status does not permit the requested pipeline.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// queuedStatus maps each pipeline kind to the instance status that marks
// it as queued for that pipeline. The status doubles as the lock: an
// instance sitting in a queued status belongs to exactly one pipeline.
var queuedStatus = map[types.PipelineKind]types.InstanceStatus{
	types.PipelineProvision: types.InstanceStatusProvisioning,
	types.PipelineDestroy:   types.InstanceStatusDestroying,
	types.PipelineSuspend:   types.InstanceStatusSuspending,
	types.PipelineResume:    types.InstanceStatusResuming,
}

// enqueueFrom lists the statuses an instance may be in when a pipeline
// of the given kind is requested.
var enqueueFrom = map[types.PipelineKind][]types.InstanceStatus{
	types.PipelineProvision: {types.InstanceStatusPending, types.InstanceStatusFailed},
	types.PipelineDestroy: {
		types.InstanceStatusPending, types.InstanceStatusRunning,
		types.InstanceStatusFailed, types.InstanceStatusSuspended,
	},
	types.PipelineSuspend: {types.InstanceStatusRunning},
	types.PipelineResume:  {types.InstanceStatusSuspended},
}

// QueuedStatus returns the instance status that marks an instance as
// queued for the given pipeline kind.
func QueuedStatus(kind types.PipelineKind) (types.InstanceStatus, error) {
	status, ok := queuedStatus[kind]
	if !ok {
		return "", fmt.Errorf("unknown pipeline kind %q", kind)
	}
	return status, nil
}

// KindStats is one pipeline kind's queue snapshot for the ops surface.
type KindStats struct {
	Kind  types.PipelineKind     `json:"kind"`
	Depth int                    `json:"depth"`
	Head  *types.ManagedInstance `json:"head,omitempty"`
}

// Queue is the database-backed work queue. There is no queue table:
// enqueue transitions the instance's status and dequeue scans for the
// oldest live row in a queued status. A crashed process leaves the row
// visible, so delivery is at-least-once.
//
// The claim set is in-process state layered on top: it stops concurrent
// dispatchers inside one orchestrator from picking up the same row. It
// is deliberately not persisted; after a crash every claim is gone and
// the rows are re-dequeued.
type Queue struct {
	store storage.Store

	mu     sync.Mutex
	claims map[int64]types.PipelineKind
}

// New creates a work queue over the given store.
func New(store storage.Store) *Queue {
	return &Queue{
		store:  store,
		claims: make(map[int64]types.PipelineKind),
	}
}

// Enqueue requests a pipeline run for the instance by moving it into the
// kind's queued status. Enqueueing an instance already queued for the
// same kind is a no-op. Any other status outside the kind's allowed set
// returns ErrIllegalTransition.
func (q *Queue) Enqueue(ctx context.Context, instanceID int64, kind types.PipelineKind) error {
	target, err := QueuedStatus(kind)
	if err != nil {
		return err
	}

	instance, err := q.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if instance.Status == target {
		return nil
	}
	if !lo.Contains(enqueueFrom[kind], instance.Status) {
		return fmt.Errorf("cannot %s instance %d in status %s: %w",
			kind, instanceID, instance.Status, ErrIllegalTransition)
	}

	return q.store.UpdateInstanceStatus(ctx, instanceID, target)
}

// Dequeue returns the oldest unclaimed instance queued for the kind and
// claims it. Callers must Release the claim when the pipeline finishes.
// Returns ErrEmpty when nothing is waiting.
//
// Selection and claim happen under one lock so two dispatchers never
// pick the same row.
func (q *Queue) Dequeue(ctx context.Context, kind types.PipelineKind) (*types.ManagedInstance, error) {
	status, err := QueuedStatus(kind)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	instances, err := q.store.ListInstancesByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	next, found := lo.Find(instances, func(m *types.ManagedInstance) bool {
		_, claimed := q.claims[m.ID]
		return !claimed
	})
	if !found {
		return nil, ErrEmpty
	}

	q.claims[next.ID] = kind
	return next, nil
}

// TryClaim claims the instance without dequeueing it. The reconciler
// uses this to keep the worker off an instance while a repair runs.
func (q *Queue) TryClaim(instanceID int64, kind types.PipelineKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, claimed := q.claims[instanceID]; claimed {
		return false
	}
	q.claims[instanceID] = kind
	return true
}

// Release drops the instance's claim. Safe to call for unclaimed IDs.
func (q *Queue) Release(instanceID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claims, instanceID)
}

// Claimed reports whether the instance is currently claimed.
func (q *Queue) Claimed(instanceID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, claimed := q.claims[instanceID]
	return claimed
}

// Depth returns the number of instances queued for the kind, claimed or
// not.
func (q *Queue) Depth(ctx context.Context, kind types.PipelineKind) (int, error) {
	status, err := QueuedStatus(kind)
	if err != nil {
		return 0, err
	}
	instances, err := q.store.ListInstancesByStatus(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("failed to measure queue depth: %w", err)
	}
	return len(instances), nil
}

// Stats returns a per-kind snapshot (depth plus head-of-line instance)
// in a fixed kind order.
func (q *Queue) Stats(ctx context.Context) ([]KindStats, error) {
	kinds := []types.PipelineKind{
		types.PipelineProvision, types.PipelineDestroy,
		types.PipelineSuspend, types.PipelineResume,
	}

	out := make([]KindStats, 0, len(kinds))
	for _, kind := range kinds {
		status, err := QueuedStatus(kind)
		if err != nil {
			return nil, err
		}
		depth, err := q.Depth(ctx, kind)
		if err != nil {
			return nil, err
		}
		stats := KindStats{Kind: kind, Depth: depth}
		head, err := q.store.OldestInstanceWithStatus(ctx, status)
		switch {
		case err == nil:
			stats.Head = head
		case errors.Is(err, storage.ErrNotFound):
			// empty kind
		default:
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}
