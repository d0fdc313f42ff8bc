package provision

import (
	"context"
	"time"

	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/configgen"
	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/tier"
	"github.com/xcord/hub/pkg/types"
)

// MaintenanceDB runs provisioning statements against the tenant
// cluster's maintenance database. Implemented by storage.Maintenance.
type MaintenanceDB interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)
	EnsureRole(ctx context.Context, name, password string) error
	CreateDatabase(ctx context.Context, name, owner string) error
}

// Container readiness poll defaults. The engine reports containers as
// created before their process is up, so verify polls inspect.
const (
	defaultReadyBudget   = 60 * time.Second
	defaultReadyInterval = 2 * time.Second
)

// Deps carries everything the provisioning steps touch.
type Deps struct {
	Store    storage.Store
	Drivers  drivers.Set
	Cfg      *config.Config
	Catalog  *tier.Catalog
	Renderer *configgen.Renderer
	Wrapper  *security.KeyWrapper
	Maint    MaintenanceDB

	// Zero values take the defaults above.
	ReadyBudget   time.Duration
	ReadyInterval time.Duration
}

// New assembles the provisioning pipeline. Step order is part of the
// on-disk contract: the event log records these names, and resume
// depends on their position.
func New(d Deps) pipeline.Pipeline {
	if d.ReadyBudget == 0 {
		d.ReadyBudget = defaultReadyBudget
	}
	if d.ReadyInterval == 0 {
		d.ReadyInterval = defaultReadyInterval
	}

	return pipeline.Pipeline{
		Kind:     types.PipelineProvision,
		Resume:   true,
		Terminal: types.InstanceStatusRunning,
		Steps: []pipeline.Step{
			&validateSubdomain{store: d.Store, baseDomain: d.Cfg.BaseDomain},
			&enforceTierLimits{store: d.Store, catalog: d.Catalog},
			&allocateWorkerID{store: d.Store},
			&generateSecrets{store: d.Store, wrapper: d.Wrapper},
			&provisionDatabase{store: d.Store, maint: d.Maint},
			&provisionObjectStore{store: d.Store, objects: d.Drivers.Store, bucketPrefix: d.Cfg.ObjectStore.BucketPrefix},
			&createNetwork{store: d.Store, engine: d.Drivers.Engine},
			&runMigrations{},
			&startAPIContainer{
				store:         d.Store,
				engine:        d.Drivers.Engine,
				renderer:      d.Renderer,
				image:         d.Cfg.Engine.InstanceImage,
				readyBudget:   d.ReadyBudget,
				readyInterval: d.ReadyInterval,
			},
			&configureDNSAndProxy{
				store:     d.Store,
				dns:       d.Drivers.DNS,
				proxy:     d.Drivers.Proxy,
				gatewayIP: d.Cfg.DNS.GatewayIP,
			},
			&activateInstance{store: d.Store},
		},
	}
}

// ContainerHostname is the engine-side name and network alias of an
// instance's container. The proxy forwards to it over the shared
// network.
func ContainerHostname(inst *types.ManagedInstance) string {
	return "xcord-" + inst.Subdomain()
}

// Upstream is the host:port the reverse proxy targets for an instance.
// The application serves plain HTTP on 80 inside the shared network;
// TLS terminates at the proxy.
func Upstream(inst *types.ManagedInstance) string {
	return ContainerHostname(inst) + ":80"
}

// DatabaseName derives the tenant database (and role) name from the
// instance subdomain. Subdomains are validated DNS labels, so the only
// character to rewrite is the hyphen.
func DatabaseName(inst *types.ManagedInstance) string {
	name := make([]byte, 0, len(inst.Domain)+6)
	name = append(name, "xcord_"...)
	for i := 0; i < len(inst.Domain) && inst.Domain[i] != '.'; i++ {
		c := inst.Domain[i]
		if c == '-' {
			c = '_'
		}
		name = append(name, c)
	}
	return string(name)
}
