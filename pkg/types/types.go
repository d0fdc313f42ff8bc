package types

import (
	"fmt"
	"time"
)

// InstanceStatus represents the lifecycle state of a managed instance.
type InstanceStatus string

const (
	InstanceStatusPending      InstanceStatus = "pending"
	InstanceStatusProvisioning InstanceStatus = "provisioning"
	InstanceStatusRunning      InstanceStatus = "running"
	InstanceStatusFailed       InstanceStatus = "failed"
	InstanceStatusSuspending   InstanceStatus = "suspending"
	InstanceStatusSuspended    InstanceStatus = "suspended"
	InstanceStatusResuming     InstanceStatus = "resuming"
	InstanceStatusDestroying   InstanceStatus = "destroying"
	InstanceStatusDestroyed    InstanceStatus = "destroyed"
)

// Terminal reports whether the status is an end state no pipeline will
// move the instance out of on its own.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceStatusRunning, InstanceStatusFailed, InstanceStatusSuspended, InstanceStatusDestroyed:
		return true
	}
	return false
}

// ManagedInstance is a tenant deployment: one application container plus
// its dedicated database, bucket, DNS name, and proxy route.
type ManagedInstance struct {
	ID          int64          `db:"id" json:"id"`
	OwnerID     int64          `db:"owner_id" json:"owner_id"`
	Domain      string         `db:"domain" json:"domain"`
	DisplayName string         `db:"display_name" json:"display_name"`
	Status      InstanceStatus `db:"status" json:"status"`
	WorkerID    *int64         `db:"worker_id" json:"worker_id,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Subdomain returns the instance's leftmost DNS label. An instance
// provisioned for "acme.example.com" owns the "acme" label inside the
// hub's base zone.
func (m *ManagedInstance) Subdomain() string {
	for i := 0; i < len(m.Domain); i++ {
		if m.Domain[i] == '.' {
			return m.Domain[:i]
		}
	}
	return m.Domain
}

// BucketName returns the object store bucket derived from the domain.
func (m *ManagedInstance) BucketName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, m.Subdomain())
}

// InstanceInfrastructure holds the external resource handles and secrets
// for one instance. Populated incrementally by provisioning steps;
// secret-bearing fields are written once by GenerateSecrets.
type InstanceInfrastructure struct {
	ID         int64 `db:"id" json:"id"`
	InstanceID int64 `db:"instance_id" json:"instance_id"`

	// Engine and edge resource handles, nil until the owning step runs.
	ContainerID  *string `db:"container_id" json:"container_id,omitempty"`
	NetworkID    *string `db:"network_id" json:"network_id,omitempty"`
	SecretID     *string `db:"secret_id" json:"secret_id,omitempty"`
	ProxyRouteID *string `db:"proxy_route_id" json:"proxy_route_id,omitempty"`

	DBName     string `db:"db_name" json:"db_name"`
	DBPassword string `db:"db_password" json:"-"`
	RedisDB    int    `db:"redis_db" json:"redis_db"`

	StorageAccessKey string `db:"storage_access_key" json:"-"`
	StorageSecretKey string `db:"storage_secret_key" json:"-"`
	// StorageRootFallback is set when per-instance store credentials could
	// not be created and root credentials were substituted.
	StorageRootFallback bool `db:"storage_root_fallback" json:"storage_root_fallback"`

	MediaAPIKey    string `db:"media_api_key" json:"-"`
	MediaSecretKey string `db:"media_secret_key" json:"-"`

	// BootstrapTokenHash is the SHA-256 of the one-time token the instance
	// exchanges for a federation token. Cleared after first use.
	BootstrapTokenHash *string `db:"bootstrap_token_hash" json:"-"`

	// InstanceKEK is the per-instance data key wrapped with the hub KEK
	// (AES-256-GCM, nonce-prefixed).
	InstanceKEK []byte `db:"instance_kek" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FeatureTier gates which product surfaces an instance can use.
type FeatureTier string

const (
	FeatureTierChat  FeatureTier = "chat"
	FeatureTierAudio FeatureTier = "audio"
	FeatureTierVideo FeatureTier = "video"
)

// BillingStatus tracks the subscription state of an instance.
type BillingStatus string

const (
	BillingStatusActive    BillingStatus = "active"
	BillingStatusPastDue   BillingStatus = "past_due"
	BillingStatusCancelled BillingStatus = "cancelled"
)

// InstanceBilling is the 1:1 subscription record for an instance.
type InstanceBilling struct {
	ID            int64         `db:"id" json:"id"`
	InstanceID    int64         `db:"instance_id" json:"instance_id"`
	FeatureTier   FeatureTier   `db:"feature_tier" json:"feature_tier"`
	UserCountTier int           `db:"user_count_tier" json:"user_count_tier"`
	HDUpgrade     bool          `db:"hd_upgrade" json:"hd_upgrade"`
	Status        BillingStatus `db:"status" json:"status"`
	PeriodEnd     *time.Time    `db:"period_end" json:"period_end,omitempty"`
	// External billing provider references.
	SubscriptionRef *string   `db:"subscription_ref" json:"subscription_ref,omitempty"`
	PriceRef        *string   `db:"price_ref" json:"price_ref,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// InstanceConfig is the rendered configuration document for an instance,
// regenerated (version bump) whenever the tier changes.
type InstanceConfig struct {
	ID                 int64     `db:"id" json:"id"`
	InstanceID         int64     `db:"instance_id" json:"instance_id"`
	ConfigJSON         string    `db:"config_json" json:"config_json"`
	ResourceLimitsJSON string    `db:"resource_limits_json" json:"resource_limits_json"`
	FeatureFlagsJSON   string    `db:"feature_flags_json" json:"feature_flags_json"`
	Version            int       `db:"version" json:"version"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Worker ID space for the snowflake generator. IDs at or below
// MaxInfraWorkerID belong to hub processes; instances draw from
// [MinInstanceWorkerID, MaxWorkerID].
const (
	MaxInfraWorkerID    int64 = 10
	MinInstanceWorkerID int64 = 11
	MaxWorkerID         int64 = 1023
)

// WorkerIDAllocation is one row of the worker ID registry. Tombstoned
// rows pin their worker_id forever; the ID is never handed out again.
type WorkerIDAllocation struct {
	WorkerID     int64      `db:"worker_id" json:"worker_id"`
	InstanceID   int64      `db:"instance_id" json:"instance_id"`
	IsTombstoned bool       `db:"is_tombstoned" json:"is_tombstoned"`
	AllocatedAt  time.Time  `db:"allocated_at" json:"allocated_at"`
	ReleasedAt   *time.Time `db:"released_at" json:"released_at,omitempty"`
}

// StepPhase identifies which half of a step an event row belongs to.
type StepPhase string

const (
	PhaseExecute StepPhase = "execute"
	PhaseVerify  StepPhase = "verify"
)

// EventStatus is the state of one step-phase attempt.
type EventStatus string

const (
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
)

// PipelineKind names which pipeline an event belongs to, so resume logic
// for one pipeline never reads another's history.
type PipelineKind string

const (
	PipelineProvision PipelineKind = "provision"
	PipelineDestroy   PipelineKind = "destroy"
	PipelineSuspend   PipelineKind = "suspend"
	PipelineResume    PipelineKind = "resume"
)

// ProvisioningEvent is one append-only attempt record. The row is inserted
// InProgress and completed (or failed) by the same attempt that started it.
type ProvisioningEvent struct {
	ID           int64        `db:"id" json:"id"`
	InstanceID   int64        `db:"instance_id" json:"instance_id"`
	Pipeline     PipelineKind `db:"pipeline" json:"pipeline"`
	StepName     string       `db:"step_name" json:"step_name"`
	Phase        StepPhase    `db:"phase" json:"phase"`
	Status       EventStatus  `db:"status" json:"status"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time    `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
}

// FederationToken is the long-lived credential an instance holds after
// exchanging its one-time bootstrap token. Only the hash is stored.
type FederationToken struct {
	ID         int64      `db:"id" json:"id"`
	InstanceID int64      `db:"instance_id" json:"instance_id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// InstanceRequest is the operator-facing creation payload accepted by the
// CLI and stored as a Pending instance.
type InstanceRequest struct {
	OwnerID       int64       `yaml:"ownerId" json:"owner_id"`
	Domain        string      `yaml:"domain" json:"domain"`
	DisplayName   string      `yaml:"displayName" json:"display_name"`
	FeatureTier   FeatureTier `yaml:"featureTier" json:"feature_tier"`
	UserCountTier int         `yaml:"userCountTier" json:"user_count_tier"`
	HDUpgrade     bool        `yaml:"hdUpgrade" json:"hd_upgrade"`
}
