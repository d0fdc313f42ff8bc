package lifecycle

import (
	"context"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// stopContainer parks the workload container. The container itself is
// kept so resume can restart it with its state intact.
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
		log.WithInstanceID(inst.ID).Debug().Msg("suspend stop skipped: no container recorded")
		return nil
	}
	if err := s.engine.StopContainer(ctx, *infra.ContainerID); err != nil {
		return fmt.Errorf("stopping container %s: %w", *infra.ContainerID, err)
	}
	return nil
}

func (s *stopContainer) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ContainerID == nil {
		return nil
	}
	running, err := s.engine.ContainerRunning(ctx, *infra.ContainerID)
	if err != nil {
		return fmt.Errorf("inspecting container %s: %w", *infra.ContainerID, err)
	}
	if running {
		return fmt.Errorf("container %s still running after stop", *infra.ContainerID)
	}
	return nil
}

// detachProxyRoute takes the instance off the edge. The recorded route
// ID stays on the infrastructure row: route IDs are stable, so resume
// recreates the same one, and destruction's delete tolerates a route
// that is already gone.
type detachProxyRoute struct {
	store storage.Store
	proxy drivers.ReverseProxyManager
}

func (s *detachProxyRoute) Name() string { return "DetachProxyRoute" }

func (s *detachProxyRoute) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ProxyRouteID == nil {
		log.WithInstanceID(inst.ID).Debug().Msg("detach skipped: no proxy route recorded")
		return nil
	}
	if err := s.proxy.DeleteRoute(ctx, *infra.ProxyRouteID); err != nil {
		return fmt.Errorf("detaching proxy route %s: %w", *infra.ProxyRouteID, err)
	}
	return nil
}

func (s *detachProxyRoute) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ProxyRouteID == nil {
		return nil
	}
	routed, err := s.proxy.VerifyRoute(ctx, *infra.ProxyRouteID)
	if err != nil {
		return fmt.Errorf("verifying proxy route %s: %w", *infra.ProxyRouteID, err)
	}
	if routed {
		return fmt.Errorf("proxy route %s still active after detach", *infra.ProxyRouteID)
	}
	return nil
}
