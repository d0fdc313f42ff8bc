// Package lifecycle holds the suspend and resume pipelines that park
// and revive an instance without touching its data.
//
// Suspension stops the workload container and removes its edge route;
// the database, bucket, network, secret and worker ID all stay. Resume
// restarts the same container and re-publishes the route. Both
// pipelines run best-effort and without event-log resume: the steps are
// cheap and idempotent, so a redelivered run just does the whole short
// list again. The executor asserts the terminal status (Suspended or
// Running) after the last step.
//
// Billing drives these transitions. A delinquent account is suspended
// rather than destroyed so settling the invoice brings the instance
// back with nothing lost.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// Deps carries what the lifecycle steps touch.
type Deps struct {
	Store   storage.Store
	Drivers drivers.Set
}

// NewSuspend builds the suspension pipeline: stop the container, take
// the route off the edge. DNS stays published; the proxy simply has
// nowhere to send the traffic, which is what a 502 on a suspended
// instance should look like.
func NewSuspend(d Deps) pipeline.Pipeline {
	return pipeline.Pipeline{
		Kind:       types.PipelineSuspend,
		BestEffort: true,
		Terminal:   types.InstanceStatusSuspended,
		Steps: []pipeline.Step{
			&stopContainer{store: d.Store, engine: d.Drivers.Engine},
			&detachProxyRoute{store: d.Store, proxy: d.Drivers.Proxy},
		},
	}
}

// NewResume builds the resume pipeline: start the stopped container,
// publish the route again.
func NewResume(d Deps) pipeline.Pipeline {
	return pipeline.Pipeline{
		Kind:       types.PipelineResume,
		BestEffort: true,
		Terminal:   types.InstanceStatusRunning,
		Steps: []pipeline.Step{
			&startContainer{store: d.Store, engine: d.Drivers.Engine},
			&attachProxyRoute{store: d.Store, proxy: d.Drivers.Proxy},
		},
	}
}

// loadInfra fetches the infrastructure row, mapping a missing row to
// ok=false so steps can decide what absence means for them.
func loadInfra(ctx context.Context, store storage.Store, inst *types.ManagedInstance) (*types.InstanceInfrastructure, bool, error) {
	infra, err := store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading infrastructure: %w", err)
	}
	return infra, true, nil
}
