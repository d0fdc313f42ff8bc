package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// createNetwork gives the instance its own attachable overlay network.
// The engine returns the existing network when one already carries the
// instance's name, so re-runs converge on a single network ID.
type createNetwork struct {
	store  storage.Store
	engine drivers.ContainerEngine
}

func (s *createNetwork) Name() string { return "CreateNetwork" }

func (s *createNetwork) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeInfrastructureNotFound,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}

	id, err := s.engine.CreateNetwork(ctx, inst.Domain)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeNetworkCreationFailed, err, "creating network for %s", inst.Domain)
	}
	if infra.NetworkID == nil || *infra.NetworkID != id {
		infra.NetworkID = &id
		if err := s.store.UpdateInfrastructure(ctx, infra); err != nil {
			return fmt.Errorf("persisting network ID %s: %w", id, err)
		}
	}
	return nil
}

func (s *createNetwork) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeInfrastructureNotFound,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}
	if infra.NetworkID == nil || *infra.NetworkID == "" {
		return pipeline.Errorf(pipeline.CodeNetworkVerifyFailed, "instance %d has no network ID", inst.ID)
	}
	ok, err := s.engine.NetworkExists(ctx, *infra.NetworkID)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeNetworkVerifyFailed, err, "inspecting network %s", *infra.NetworkID)
	}
	if !ok {
		return pipeline.Errorf(pipeline.CodeNetworkVerifyFailed, "network %s does not exist", *infra.NetworkID)
	}
	return nil
}
