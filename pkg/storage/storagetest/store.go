// Package storagetest provides an in-memory storage.Store for tests.
//
// The fake mirrors the Postgres store's observable behavior: sentinel
// errors, FIFO queue probes, lowest-absent worker ID allocation, and
// tombstone pinning. Tests needing a failure from a single method can
// embed *Store in a struct that overrides it.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.Mutex

	nextID    int64
	clock     time.Time
	instances map[int64]*types.ManagedInstance
	infra     map[int64]*types.InstanceInfrastructure // keyed by instance ID
	billing   map[int64]*types.InstanceBilling        // keyed by instance ID
	configs   map[int64]*types.InstanceConfig         // keyed by instance ID
	registry  map[int64]*types.WorkerIDAllocation     // keyed by worker ID
	events    []*types.ProvisioningEvent
	tokens    map[int64]*types.FederationToken
}

var _ storage.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:    1,
		clock:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		instances: make(map[int64]*types.ManagedInstance),
		infra:     make(map[int64]*types.InstanceInfrastructure),
		billing:   make(map[int64]*types.InstanceBilling),
		configs:   make(map[int64]*types.InstanceConfig),
		registry:  make(map[int64]*types.WorkerIDAllocation),
		tokens:    make(map[int64]*types.FederationToken),
	}
}

// mint returns a fresh unique ID. Callers hold s.mu.
func (s *Store) mint() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// now returns a strictly increasing timestamp so created_at ordering is
// deterministic even when rows are inserted within the same wall tick.
func (s *Store) now() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

// Instance operations

func (s *Store) CreateInstance(_ context.Context, instance *types.ManagedInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instances {
		if existing.Domain == instance.Domain && existing.DeletedAt == nil {
			return fmt.Errorf("domain %s: %w", instance.Domain, storage.ErrDomainTaken)
		}
	}

	if instance.ID == 0 {
		instance.ID = s.mint()
	}
	now := s.now()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	cp := *instance
	s.instances[instance.ID] = &cp
	return nil
}

func (s *Store) GetInstance(_ context.Context, id int64) (*types.ManagedInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
	}
	cp := *instance
	return &cp, nil
}

func (s *Store) GetLiveInstanceByDomain(_ context.Context, domain string) (*types.ManagedInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, instance := range s.instances {
		if instance.Domain == domain && instance.DeletedAt == nil {
			cp := *instance
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("instance %s: %w", domain, storage.ErrNotFound)
}

func (s *Store) ListInstances(_ context.Context) ([]*types.ManagedInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.ManagedInstance, 0, len(s.instances))
	for _, instance := range s.instances {
		cp := *instance
		out = append(out, &cp)
	}
	sortByCreation(out)
	return out, nil
}

func (s *Store) ListInstancesByStatus(_ context.Context, status types.InstanceStatus) ([]*types.ManagedInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.ManagedInstance
	for _, instance := range s.instances {
		if instance.Status == status && instance.DeletedAt == nil {
			cp := *instance
			out = append(out, &cp)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *Store) OldestInstanceWithStatus(ctx context.Context, status types.InstanceStatus) (*types.ManagedInstance, error) {
	matches, err := s.ListInstancesByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return matches[0], nil
}

func (s *Store) CountLiveInstancesByOwner(_ context.Context, ownerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, instance := range s.instances {
		if instance.OwnerID == ownerID && instance.DeletedAt == nil && instance.Status != types.InstanceStatusDestroyed {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpdateInstanceStatus(_ context.Context, id int64, status types.InstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
	}
	instance.Status = status
	instance.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetInstanceWorkerID(_ context.Context, id, workerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
	}
	instance.WorkerID = &workerID
	instance.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkInstanceDestroyed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
	}
	now := s.now()
	instance.Status = types.InstanceStatusDestroyed
	instance.DeletedAt = &now
	instance.UpdatedAt = now
	return nil
}

// Infrastructure operations

func (s *Store) CreateInfrastructure(_ context.Context, infra *types.InstanceInfrastructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if infra.ID == 0 {
		infra.ID = s.mint()
	}
	now := s.now()
	infra.CreatedAt = now
	infra.UpdatedAt = now

	cp := *infra
	s.infra[infra.InstanceID] = &cp
	return nil
}

func (s *Store) GetInfrastructure(_ context.Context, instanceID int64) (*types.InstanceInfrastructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infra, ok := s.infra[instanceID]
	if !ok {
		return nil, fmt.Errorf("infrastructure for instance %d: %w", instanceID, storage.ErrNotFound)
	}
	cp := *infra
	return &cp, nil
}

func (s *Store) UpdateInfrastructure(_ context.Context, infra *types.InstanceInfrastructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.infra[infra.InstanceID]; !ok {
		return fmt.Errorf("instance %d: %w", infra.InstanceID, storage.ErrNotFound)
	}
	infra.UpdatedAt = s.now()
	cp := *infra
	s.infra[infra.InstanceID] = &cp
	return nil
}

func (s *Store) ClearBootstrapToken(_ context.Context, instanceID int64, expectedHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infra, ok := s.infra[instanceID]
	if !ok || infra.BootstrapTokenHash == nil || *infra.BootstrapTokenHash != expectedHash {
		return false, nil
	}
	infra.BootstrapTokenHash = nil
	infra.UpdatedAt = s.now()
	return true, nil
}

// Billing operations

func (s *Store) CreateBilling(_ context.Context, billing *types.InstanceBilling) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if billing.ID == 0 {
		billing.ID = s.mint()
	}
	now := s.now()
	billing.CreatedAt = now
	billing.UpdatedAt = now

	cp := *billing
	s.billing[billing.InstanceID] = &cp
	return nil
}

func (s *Store) GetBilling(_ context.Context, instanceID int64) (*types.InstanceBilling, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	billing, ok := s.billing[instanceID]
	if !ok {
		return nil, fmt.Errorf("billing for instance %d: %w", instanceID, storage.ErrNotFound)
	}
	cp := *billing
	return &cp, nil
}

func (s *Store) UpdateBilling(_ context.Context, billing *types.InstanceBilling) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.billing[billing.InstanceID]; !ok {
		return fmt.Errorf("instance %d: %w", billing.InstanceID, storage.ErrNotFound)
	}
	billing.UpdatedAt = s.now()
	cp := *billing
	s.billing[billing.InstanceID] = &cp
	return nil
}

// Config operations

func (s *Store) CreateConfig(_ context.Context, cfg *types.InstanceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.ID == 0 {
		cfg.ID = s.mint()
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	cfg.UpdatedAt = s.now()

	cp := *cfg
	s.configs[cfg.InstanceID] = &cp
	return nil
}

func (s *Store) GetConfig(_ context.Context, instanceID int64) (*types.InstanceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[instanceID]
	if !ok {
		return nil, fmt.Errorf("config for instance %d: %w", instanceID, storage.ErrNotFound)
	}
	cp := *cfg
	return &cp, nil
}

func (s *Store) UpdateConfig(_ context.Context, cfg *types.InstanceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[cfg.InstanceID]; !ok {
		return fmt.Errorf("instance %d: %w", cfg.InstanceID, storage.ErrNotFound)
	}
	cfg.UpdatedAt = s.now()
	cp := *cfg
	s.configs[cfg.InstanceID] = &cp
	return nil
}

// Worker ID registry operations

func (s *Store) AllocateWorkerID(_ context.Context, instanceID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alloc := range s.registry {
		if alloc.InstanceID == instanceID && !alloc.IsTombstoned {
			return alloc.WorkerID, nil
		}
	}

	for candidate := types.MinInstanceWorkerID; candidate <= types.MaxWorkerID; candidate++ {
		if _, taken := s.registry[candidate]; taken {
			continue
		}
		s.registry[candidate] = &types.WorkerIDAllocation{
			WorkerID:    candidate,
			InstanceID:  instanceID,
			AllocatedAt: s.now(),
		}
		return candidate, nil
	}
	return 0, storage.ErrWorkerIDsExhausted
}

func (s *Store) GetWorkerIDAllocation(_ context.Context, instanceID int64) (*types.WorkerIDAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alloc := range s.registry {
		if alloc.InstanceID == instanceID && !alloc.IsTombstoned {
			cp := *alloc
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("worker ID allocation for instance %d: %w", instanceID, storage.ErrNotFound)
}

func (s *Store) TombstoneWorkerID(_ context.Context, instanceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alloc := range s.registry {
		if alloc.InstanceID == instanceID && !alloc.IsTombstoned {
			now := s.now()
			alloc.IsTombstoned = true
			alloc.ReleasedAt = &now
		}
	}
	return nil
}

// ReleaseWorkerID hard-deletes a non-tombstoned registry row, mimicking
// the operator cleanup path that returns a failed instance's worker ID
// to the pool. Not part of storage.Store.
func (s *Store) ReleaseWorkerID(instanceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for workerID, alloc := range s.registry {
		if alloc.InstanceID == instanceID && !alloc.IsTombstoned {
			delete(s.registry, workerID)
		}
	}
}

// Provisioning event operations

func (s *Store) InsertEvent(_ context.Context, event *types.ProvisioningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == 0 {
		event.ID = s.mint()
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = s.now()
	}

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *Store) CompleteEvent(_ context.Context, eventID int64, status types.EventStatus, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		if event.ID == eventID {
			now := s.now()
			event.Status = status
			event.ErrorMessage = errorMessage
			event.CompletedAt = &now
			return nil
		}
	}
	return fmt.Errorf("instance %d: %w", eventID, storage.ErrNotFound)
}

func (s *Store) ListEvents(_ context.Context, instanceID int64, pipeline types.PipelineKind) ([]*types.ProvisioningEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.ProvisioningEvent
	for _, event := range s.events {
		if event.InstanceID == instanceID && event.Pipeline == pipeline {
			cp := *event
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// Federation token operations

func (s *Store) CreateFederationToken(_ context.Context, token *types.FederationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.ID == 0 {
		token.ID = s.mint()
	}
	token.CreatedAt = s.now()

	cp := *token
	s.tokens[token.ID] = &cp
	return nil
}

func (s *Store) GetFederationTokenByHash(_ context.Context, hash string) (*types.FederationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range s.tokens {
		if token.TokenHash == hash && token.RevokedAt == nil {
			cp := *token
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("federation token: %w", storage.ErrNotFound)
}

func (s *Store) RevokeFederationToken(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok || token.RevokedAt != nil {
		return fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
	}
	now := s.now()
	token.RevokedAt = &now
	return nil
}

func (s *Store) TouchFederationToken(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("instance %d: %w", id, storage.ErrNotFound)
	}
	now := s.now()
	token.LastUsedAt = &now
	return nil
}

// Utility

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func sortByCreation(instances []*types.ManagedInstance) {
	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].ID < instances[j].ID
		}
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})
}
