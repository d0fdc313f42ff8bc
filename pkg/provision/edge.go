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

// configureDNSAndProxy publishes the instance at the edge: an A record
// pointing the subdomain at the gateway, and a host-header route from
// the proxy to the container. Both are claimed in one step because
// neither is useful without the other.
type configureDNSAndProxy struct {
	store     storage.Store
	dns       drivers.DNSProvider
	proxy     drivers.ReverseProxyManager
	gatewayIP string
}

func (s *configureDNSAndProxy) Name() string { return "ConfigureDnsAndProxy" }

func (s *configureDNSAndProxy) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeInfrastructureNotFound,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}

	if err := s.dns.CreateARecord(ctx, inst.Subdomain(), s.gatewayIP); err != nil {
		return pipeline.Wrap(pipeline.CodeDNSProxyFailed, err, "creating A record for %s", inst.Domain)
	}

	routeID, err := s.proxy.CreateRoute(ctx, inst.Domain, Upstream(inst))
	if err != nil {
		return pipeline.Wrap(pipeline.CodeDNSProxyFailed, err, "creating proxy route for %s", inst.Domain)
	}
	if infra.ProxyRouteID == nil || *infra.ProxyRouteID != routeID {
		infra.ProxyRouteID = &routeID
		if err := s.store.UpdateInfrastructure(ctx, infra); err != nil {
			return fmt.Errorf("persisting proxy route ID %s: %w", routeID, err)
		}
	}
	return nil
}

func (s *configureDNSAndProxy) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	ok, err := s.dns.VerifyARecord(ctx, inst.Subdomain())
	if err != nil {
		return pipeline.Wrap(pipeline.CodeDNSVerifyFailed, err, "verifying A record for %s", inst.Domain)
	}
	if !ok {
		return pipeline.Errorf(pipeline.CodeDNSVerifyFailed, "no A record for %s", inst.Domain)
	}

	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeInfrastructureNotFound,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}
	if infra.ProxyRouteID == nil || *infra.ProxyRouteID == "" {
		return pipeline.Errorf(pipeline.CodeRouteVerifyFailed, "instance %d has no proxy route", inst.ID)
	}
	ok, err = s.proxy.VerifyRoute(ctx, *infra.ProxyRouteID)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeRouteVerifyFailed, err, "verifying proxy route %s", *infra.ProxyRouteID)
	}
	if !ok {
		return pipeline.Errorf(pipeline.CodeRouteVerifyFailed, "proxy route %s not installed", *infra.ProxyRouteID)
	}
	return nil
}
