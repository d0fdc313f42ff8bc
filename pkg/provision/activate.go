package provision

import (
	"context"
	"fmt"

	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// activateInstance flips the instance to Running. It is the only step
// that touches status: everything before it leaves the instance in
// Provisioning so a crash anywhere in the pipeline keeps the row
// claimable by the queue.
type activateInstance struct {
	store storage.Store
}

func (s *activateInstance) Name() string { return "ActivateInstance" }

func (s *activateInstance) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	if err := s.store.UpdateInstanceStatus(ctx, inst.ID, types.InstanceStatusRunning); err != nil {
		return fmt.Errorf("activating instance %d: %w", inst.ID, err)
	}
	return nil
}

func (s *activateInstance) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	cur, err := s.store.GetInstance(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("reloading instance %d: %w", inst.ID, err)
	}
	if cur.Status != types.InstanceStatusRunning {
		return fmt.Errorf("instance %d is %s, expected %s", inst.ID, cur.Status, types.InstanceStatusRunning)
	}
	return nil
}
