package metrics

import (
	"context"
	"time"

	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// knownStatuses enumerates every status series the inventory gauge
// exports, so a status that empties out is reset instead of going stale.
var knownStatuses = []types.InstanceStatus{
	types.InstanceStatusPending,
	types.InstanceStatusProvisioning,
	types.InstanceStatusRunning,
	types.InstanceStatusFailed,
	types.InstanceStatusSuspending,
	types.InstanceStatusSuspended,
	types.InstanceStatusResuming,
	types.InstanceStatusDestroying,
	types.InstanceStatusDestroyed,
}

// queuedBy maps each pipeline to its queued status for the depth gauge.
var queuedBy = map[types.PipelineKind]types.InstanceStatus{
	types.PipelineProvision: types.InstanceStatusProvisioning,
	types.PipelineDestroy:   types.InstanceStatusDestroying,
	types.PipelineSuspend:   types.InstanceStatusSuspending,
	types.PipelineResume:    types.InstanceStatusResuming,
}

// Collector periodically scans the store and refreshes inventory gauges.
type Collector struct {
	store    storage.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling every 15 seconds.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:    store,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect runs one collection cycle. Exported so tests and the ops
// surface can force a refresh.
func (c *Collector) Collect(ctx context.Context) {
	instances, err := c.store.ListInstances(ctx)
	if err != nil {
		return
	}

	statusCounts := make(map[types.InstanceStatus]int)
	workerIDsInUse := 0
	for _, instance := range instances {
		statusCounts[instance.Status]++
		if instance.DeletedAt == nil && instance.WorkerID != nil {
			workerIDsInUse++
		}
	}

	for _, status := range knownStatuses {
		InstancesTotal.WithLabelValues(string(status)).Set(float64(statusCounts[status]))
	}
	WorkerIDsInUse.Set(float64(workerIDsInUse))

	// Queued statuses double as queue depth. Destroyed rows are soft
	// deleted and never queued, so the raw status count is the depth.
	for kind, status := range queuedBy {
		QueueDepth.WithLabelValues(string(kind)).Set(float64(statusCounts[status]))
	}
}
