package destroy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// Timeouts around the shutdown notice. The notice is a courtesy; the
// grace period gives the instance a moment to flush before the engine
// stops it.
const (
	defaultNotifyTimeout = 4 * time.Second
	defaultGrace         = 5 * time.Second
)

// Deps carries everything the destruction steps touch.
type Deps struct {
	Store   storage.Store
	Drivers drivers.Set
	Cfg     *config.Config

	// Zero values take the defaults above.
	NotifyTimeout time.Duration
	Grace         time.Duration
}

// New assembles the destruction pipeline. Every step is best-effort:
// exhausted failures are logged and the run continues, because
// destruction must converge even when external resources are partially
// missing or were never created. Finalization tombstones the worker ID
// and soft-deletes the row; it runs no matter what the steps found.
func New(d Deps) pipeline.Pipeline {
	if d.NotifyTimeout == 0 {
		d.NotifyTimeout = defaultNotifyTimeout
	}
	if d.Grace == 0 {
		d.Grace = defaultGrace
	}

	return pipeline.Pipeline{
		Kind:       types.PipelineDestroy,
		Resume:     true,
		BestEffort: true,
		Steps: []pipeline.Step{
			&notifyShuttingDown{
				store:    d.Store,
				notifier: d.Drivers.Notifier,
				timeout:  d.NotifyTimeout,
				grace:    d.Grace,
			},
			&stopContainer{store: d.Store, engine: d.Drivers.Engine},
			&removeProxyRoute{store: d.Store, proxy: d.Drivers.Proxy},
			&removeDNSRecord{dns: d.Drivers.DNS},
			&removeContainer{store: d.Store, engine: d.Drivers.Engine},
			&removeNetwork{store: d.Store, engine: d.Drivers.Engine},
			&removeObjectStoreBucket{
				store:        d.Store,
				objects:      d.Drivers.Store,
				bucketPrefix: d.Cfg.ObjectStore.BucketPrefix,
			},
		},
		Finalize: finalize(d.Store),
	}
}

// finalize pins the worker ID forever and soft-deletes the instance.
// The executor logs its error without failing the run; a finalization
// crash leaves the instance in Destroying and the queue redelivers.
func finalize(store storage.Store) pipeline.FinalizeFunc {
	return func(ctx context.Context, inst *types.ManagedInstance) error {
		if err := store.TombstoneWorkerID(ctx, inst.ID); err != nil {
			return fmt.Errorf("tombstoning worker ID for instance %d: %w", inst.ID, err)
		}
		if err := store.MarkInstanceDestroyed(ctx, inst.ID); err != nil {
			return fmt.Errorf("marking instance %d destroyed: %w", inst.ID, err)
		}
		logger := log.WithInstanceID(inst.ID)
		logger.Info().Str("domain", inst.Domain).Msg("instance destroyed")
		return nil
	}
}

// loadInfra fetches the infrastructure row, reporting absence without an
// error. Instances destroyed before GenerateSecrets never had one.
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
