package destroy

import (
	"context"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// stopContainer stops the workload with the engine's 10 second grace.
// A container the engine no longer knows about counts as stopped.
type stopContainer struct {
	store  storage.Store
	engine drivers.ContainerEngine
}

func (s *stopContainer) Name() string { return "StopContainer" }

func (s *stopContainer) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ContainerID == nil {
		logger := log.WithInstanceID(inst.ID)
		logger.Debug().Msg("stop skipped: no container recorded")
		return nil
	}
	if err := s.engine.StopContainer(ctx, *infra.ContainerID); err != nil {
		return fmt.Errorf("stopping container %s: %w", *infra.ContainerID, err)
	}
	return nil
}

func (s *stopContainer) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}

// removeContainer force-removes the workload container and the config
// secret mounted into it. The secret can only go once nothing
// references it, which is why it rides along here rather than getting
// its own step.
type removeContainer struct {
	store  storage.Store
	engine drivers.ContainerEngine
}

func (s *removeContainer) Name() string { return "RemoveContainer" }

func (s *removeContainer) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok {
		logger := log.WithInstanceID(inst.ID)
		logger.Debug().Msg("remove skipped: no infrastructure recorded")
		return nil
	}

	if infra.ContainerID != nil {
		if err := s.engine.RemoveContainer(ctx, *infra.ContainerID); err != nil {
			return fmt.Errorf("removing container %s: %w", *infra.ContainerID, err)
		}
	} else {
		logger := log.WithInstanceID(inst.ID)
		logger.Debug().Msg("remove skipped: no container recorded")
	}

	if infra.SecretID != nil {
		if err := s.engine.RemoveSecret(ctx, *infra.SecretID); err != nil {
			return fmt.Errorf("removing secret %s: %w", *infra.SecretID, err)
		}
	}
	return nil
}

func (s *removeContainer) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}

// removeNetwork deletes the instance's private network.
type removeNetwork struct {
	store  storage.Store
	engine drivers.ContainerEngine
}

func (s *removeNetwork) Name() string { return "RemoveNetwork" }

func (s *removeNetwork) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.NetworkID == nil {
		log.WithInstanceID(inst.ID).Debug().Msg("network removal skipped: none recorded")
		return nil
	}
	if err := s.engine.RemoveNetwork(ctx, *infra.NetworkID); err != nil {
		return fmt.Errorf("removing network %s: %w", *infra.NetworkID, err)
	}
	return nil
}

func (s *removeNetwork) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}
