package destroy

import (
	"context"
	"time"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// notifyShuttingDown posts a shutdown notice to the instance and waits
// a short grace period so it can flush in-flight work. The notice is
// strictly best-effort: delivery failures are logged and swallowed, and
// instances without a container skip the step entirely.
type notifyShuttingDown struct {
	store    storage.Store
	notifier drivers.InstanceNotifier
	timeout  time.Duration
	grace    time.Duration
}

func (s *notifyShuttingDown) Name() string { return "NotifyShuttingDown" }

func (s *notifyShuttingDown) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ContainerID == nil {
		logger := log.WithInstanceID(inst.ID)
		logger.Debug().Msg("shutdown notice skipped: no container recorded")
		return nil
	}

	nctx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.notifier.NotifyShuttingDown(nctx, inst.Domain, "instance destruction requested")
	cancel()
	if err != nil {
		logger := log.WithInstanceID(inst.ID)
		logger.Warn().Err(err).Msg("shutdown notice not delivered")
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.grace):
	}
	return nil
}

func (s *notifyShuttingDown) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}
