package storage

import (
	"context"
	"errors"

	"github.com/xcord/hub/pkg/types"
)

// Sentinel errors mapped from database conditions. Callers classify with
// errors.Is.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDomainTaken is returned when another live instance already holds
	// the domain.
	ErrDomainTaken = errors.New("domain already taken")
	// ErrWorkerIDsExhausted is returned when no worker ID in the instance
	// range is left to allocate.
	ErrWorkerIDsExhausted = errors.New("no worker IDs available")
)

// Store defines the interface for orchestrator state storage.
// Implemented by the Postgres-backed store.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, instance *types.ManagedInstance) error
	GetInstance(ctx context.Context, id int64) (*types.ManagedInstance, error)
	GetLiveInstanceByDomain(ctx context.Context, domain string) (*types.ManagedInstance, error)
	ListInstances(ctx context.Context) ([]*types.ManagedInstance, error)
	ListInstancesByStatus(ctx context.Context, status types.InstanceStatus) ([]*types.ManagedInstance, error)
	// OldestInstanceWithStatus is the queue probe: FIFO by created_at
	// among live rows in the given status. ErrNotFound when empty.
	OldestInstanceWithStatus(ctx context.Context, status types.InstanceStatus) (*types.ManagedInstance, error)
	CountLiveInstancesByOwner(ctx context.Context, ownerID int64) (int, error)
	UpdateInstanceStatus(ctx context.Context, id int64, status types.InstanceStatus) error
	SetInstanceWorkerID(ctx context.Context, id, workerID int64) error
	// MarkInstanceDestroyed sets status, soft-deletes, and stamps
	// deleted_at in one statement.
	MarkInstanceDestroyed(ctx context.Context, id int64) error

	// Infrastructure
	CreateInfrastructure(ctx context.Context, infra *types.InstanceInfrastructure) error
	GetInfrastructure(ctx context.Context, instanceID int64) (*types.InstanceInfrastructure, error)
	UpdateInfrastructure(ctx context.Context, infra *types.InstanceInfrastructure) error
	// ClearBootstrapToken burns the one-time bootstrap token hash if and
	// only if it still equals expectedHash, and reports whether this call
	// did the burn. Concurrent exchanges of the same token resolve to
	// exactly one winner.
	ClearBootstrapToken(ctx context.Context, instanceID int64, expectedHash string) (bool, error)

	// Billing
	CreateBilling(ctx context.Context, billing *types.InstanceBilling) error
	GetBilling(ctx context.Context, instanceID int64) (*types.InstanceBilling, error)
	UpdateBilling(ctx context.Context, billing *types.InstanceBilling) error

	// Configs
	CreateConfig(ctx context.Context, cfg *types.InstanceConfig) error
	GetConfig(ctx context.Context, instanceID int64) (*types.InstanceConfig, error)
	UpdateConfig(ctx context.Context, cfg *types.InstanceConfig) error

	// Worker ID registry
	AllocateWorkerID(ctx context.Context, instanceID int64) (int64, error)
	GetWorkerIDAllocation(ctx context.Context, instanceID int64) (*types.WorkerIDAllocation, error)
	TombstoneWorkerID(ctx context.Context, instanceID int64) error

	// Provisioning events
	InsertEvent(ctx context.Context, event *types.ProvisioningEvent) error
	CompleteEvent(ctx context.Context, eventID int64, status types.EventStatus, errorMessage *string) error
	ListEvents(ctx context.Context, instanceID int64, pipeline types.PipelineKind) ([]*types.ProvisioningEvent, error)

	// Federation tokens
	CreateFederationToken(ctx context.Context, token *types.FederationToken) error
	GetFederationTokenByHash(ctx context.Context, hash string) (*types.FederationToken, error)
	RevokeFederationToken(ctx context.Context, id int64) error
	TouchFederationToken(ctx context.Context, id int64) error

	// Utility
	Ping(ctx context.Context) error
	Close() error
}
