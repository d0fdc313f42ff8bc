package lifecycle

import (
	"context"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/provision"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// startContainer restarts the container suspension stopped. A missing
// handle is an error here, not a skip: waking an instance that has no
// container means the engine lost it, and the failed events flag the
// drift for the reconciler's provisioning re-run to repair.
type startContainer struct {
	store  storage.Store
	engine drivers.ContainerEngine
}

func (s *startContainer) Name() string { return "StartContainer" }

func (s *startContainer) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ContainerID == nil {
		return fmt.Errorf("resuming instance %d: no container recorded", inst.ID)
	}
	if err := s.engine.StartStoppedContainer(ctx, *infra.ContainerID); err != nil {
		return fmt.Errorf("restarting container %s: %w", *infra.ContainerID, err)
	}
	return nil
}

func (s *startContainer) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ContainerID == nil {
		return fmt.Errorf("resuming instance %d: no container recorded", inst.ID)
	}
	running, err := s.engine.ContainerRunning(ctx, *infra.ContainerID)
	if err != nil {
		return fmt.Errorf("inspecting container %s: %w", *infra.ContainerID, err)
	}
	if !running {
		return fmt.Errorf("container %s not running after restart", *infra.ContainerID)
	}
	return nil
}

// attachProxyRoute publishes the edge route again. Route creation is
// keyed by domain and returns a stable ID, so re-attaching after a
// crash or a repeated resume converges on the stored handle.
type attachProxyRoute struct {
	store storage.Store
	proxy drivers.ReverseProxyManager
}

func (s *attachProxyRoute) Name() string { return "AttachProxyRoute" }

func (s *attachProxyRoute) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("resuming instance %d: no infrastructure recorded", inst.ID)
	}
	routeID, err := s.proxy.CreateRoute(ctx, inst.Domain, provision.Upstream(inst))
	if err != nil {
		return fmt.Errorf("attaching proxy route for %s: %w", inst.Domain, err)
	}
	if infra.ProxyRouteID == nil || *infra.ProxyRouteID != routeID {
		infra.ProxyRouteID = &routeID
		if err := s.store.UpdateInfrastructure(ctx, infra); err != nil {
			return fmt.Errorf("persisting proxy route id: %w", err)
		}
	}
	return nil
}

func (s *attachProxyRoute) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ProxyRouteID == nil {
		return fmt.Errorf("resuming instance %d: no proxy route recorded", inst.ID)
	}
	routed, err := s.proxy.VerifyRoute(ctx, *infra.ProxyRouteID)
	if err != nil {
		return fmt.Errorf("verifying proxy route %s: %w", *infra.ProxyRouteID, err)
	}
	if !routed {
		return fmt.Errorf("proxy route %s not active after attach", *infra.ProxyRouteID)
	}
	return nil
}
