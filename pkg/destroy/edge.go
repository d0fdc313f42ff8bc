package destroy

import (
	"context"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// removeProxyRoute unpublishes the instance from the edge proxy.
// Removing the route before the DNS record stops new connections from
// reaching a half-dismantled backend.
type removeProxyRoute struct {
	store storage.Store
	proxy drivers.ReverseProxyManager
}

func (s *removeProxyRoute) Name() string { return "RemoveProxyRoute" }

func (s *removeProxyRoute) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok || infra.ProxyRouteID == nil {
		logger := log.WithInstanceID(inst.ID)
		logger.Debug().Msg("route removal skipped: none recorded")
		return nil
	}
	if err := s.proxy.DeleteRoute(ctx, *infra.ProxyRouteID); err != nil {
		return fmt.Errorf("deleting proxy route %s: %w", *infra.ProxyRouteID, err)
	}
	return nil
}

func (s *removeProxyRoute) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}

// removeDNSRecord deletes the instance's A record. The record is keyed
// by subdomain, not a stored handle, so this runs even for instances
// whose infrastructure row never existed.
type removeDNSRecord struct {
	dns drivers.DNSProvider
}

func (s *removeDNSRecord) Name() string { return "RemoveDnsRecord" }

func (s *removeDNSRecord) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	if err := s.dns.DeleteARecord(ctx, inst.Subdomain()); err != nil {
		return fmt.Errorf("deleting A record for %s: %w", inst.Domain, err)
	}
	return nil
}

func (s *removeDNSRecord) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}
