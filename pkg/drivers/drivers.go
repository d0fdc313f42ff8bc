package drivers

import "context"

// ContainerSpec describes the workload container a pipeline starts for
// an instance. The engine driver attaches it to the instance's private
// network and the shared infrastructure network, and mounts the config
// secret read-only at SecretPath.
type ContainerSpec struct {
	InstanceDomain string
	Image          string
	Hostname       string
	NetworkID      string
	SecretID       string
	SecretPath     string
	MemoryBytes    int64
	CPUQuota       int64
	Env            []string
	Labels         map[string]string
}

// BucketCredentials is the effective credential set after a bucket
// provision. RootFallback is set when the admin control API could not
// mint a per-instance principal and root credentials were substituted.
type BucketCredentials struct {
	AccessKey    string
	SecretKey    string
	RootFallback bool
}

// ContainerEngine drives the container host. Create calls are
// idempotent (duplicate checks or lookup-by-name); every Remove treats
// a missing target as success.
type ContainerEngine interface {
	CreateNetwork(ctx context.Context, instanceDomain string) (string, error)
	NetworkExists(ctx context.Context, networkID string) (bool, error)
	CreateSecret(ctx context.Context, instanceDomain string, payload []byte) (string, error)
	RemoveSecret(ctx context.Context, secretID string) error
	StartContainer(ctx context.Context, spec ContainerSpec) (string, error)
	// StartStoppedContainer restarts an existing container by ID, used
	// when resuming a suspended instance.
	StartStoppedContainer(ctx context.Context, containerID string) error
	ContainerRunning(ctx context.Context, containerID string) (bool, error)
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
	RemoveNetwork(ctx context.Context, networkID string) error
}

// DNSProvider manages the instance's record inside the hub's zone.
type DNSProvider interface {
	CreateARecord(ctx context.Context, subdomain, ip string) error
	VerifyARecord(ctx context.Context, subdomain string) (bool, error)
	DeleteARecord(ctx context.Context, subdomain string) error
}

// ReverseProxyManager manages host-header routes on the edge proxy.
// Route IDs are stable: creating the same instance's route twice yields
// the same ID.
type ReverseProxyManager interface {
	CreateRoute(ctx context.Context, instanceDomain, upstreamHost string) (string, error)
	VerifyRoute(ctx context.Context, routeID string) (bool, error)
	DeleteRoute(ctx context.Context, routeID string) error
}

// ObjectStoreManager provisions per-instance buckets and principals.
// ProvisionBucket is idempotent; VerifyBucket must exercise a real read
// (a list call, not a HEAD, which can succeed on 403).
type ObjectStoreManager interface {
	ProvisionBucket(ctx context.Context, name, accessKey, secretKey string) (*BucketCredentials, error)
	DeprovisionBucket(ctx context.Context, name, accessKey string) error
	VerifyBucket(ctx context.Context, name, accessKey, secretKey string) (bool, error)
}

// InstanceNotifier delivers best-effort shutdown notices to the
// instance's internal hostname. Callers bound it to a 4 second budget
// and swallow failures.
type InstanceNotifier interface {
	NotifyShuttingDown(ctx context.Context, domain, reason string) error
}

// Set bundles the five capabilities a pipeline needs. Real and stub
// implementations are interchangeable at this boundary.
type Set struct {
	Engine   ContainerEngine
	DNS      DNSProvider
	Proxy    ReverseProxyManager
	Store    ObjectStoreManager
	Notifier InstanceNotifier
}
