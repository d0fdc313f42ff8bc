package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// allocateWorkerID claims the lowest unused snowflake worker ID for the
// instance. IDs are never reused after destruction: tombstoned registry
// rows pin them forever so two instance lifetimes can't mint colliding
// snowflakes.
type allocateWorkerID struct {
	store storage.Store
}

func (s *allocateWorkerID) Name() string { return "AllocateWorkerId" }

func (s *allocateWorkerID) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	id, err := s.store.AllocateWorkerID(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrWorkerIDsExhausted) {
			return pipeline.Errorf(pipeline.CodeNoWorkerIDs,
				"worker ID range [%d, %d] is fully allocated", types.MinInstanceWorkerID, types.MaxWorkerID)
		}
		return fmt.Errorf("allocating worker ID: %w", err)
	}
	if err := s.store.SetInstanceWorkerID(ctx, inst.ID, id); err != nil {
		return fmt.Errorf("writing worker ID %d to instance %d: %w", id, inst.ID, err)
	}
	return nil
}

func (s *allocateWorkerID) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	alloc, err := s.store.GetWorkerIDAllocation(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeWorkerIDVerifyFailed, "no registry row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading worker ID allocation: %w", err)
	}

	cur, err := s.store.GetInstance(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("reloading instance %d: %w", inst.ID, err)
	}
	if cur.WorkerID == nil || *cur.WorkerID != alloc.WorkerID {
		return pipeline.Errorf(pipeline.CodeWorkerIDVerifyFailed,
			"instance worker ID does not match registry row %d", alloc.WorkerID)
	}
	return nil
}

// generateSecrets creates the infrastructure row with every credential
// the instance will ever hold. It runs exactly once per instance: an
// existing row short-circuits, so re-runs after a crash never rotate
// credentials that later steps already consumed.
type generateSecrets struct {
	store   storage.Store
	wrapper *security.KeyWrapper
}

func (s *generateSecrets) Name() string { return "GenerateSecrets" }

func (s *generateSecrets) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	_, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("checking for existing infrastructure: %w", err)
	}

	dbPassword, err := security.GeneratePassword(32)
	if err != nil {
		return fmt.Errorf("generating database password: %w", err)
	}
	storageAccessKey, err := security.GenerateAccessKey()
	if err != nil {
		return fmt.Errorf("generating storage access key: %w", err)
	}
	storageSecretKey, err := security.GenerateSecretKey()
	if err != nil {
		return fmt.Errorf("generating storage secret key: %w", err)
	}
	mediaAPIKey, err := security.GenerateAccessKey()
	if err != nil {
		return fmt.Errorf("generating media API key: %w", err)
	}
	mediaSecretKey, err := security.GenerateSecretKey()
	if err != nil {
		return fmt.Errorf("generating media secret key: %w", err)
	}

	token, err := security.GenerateBootstrapToken()
	if err != nil {
		return fmt.Errorf("generating bootstrap token: %w", err)
	}
	hash := security.HashToken(token)

	dek, err := security.NewInstanceDEK()
	if err != nil {
		return fmt.Errorf("generating instance DEK: %w", err)
	}
	wrapped, err := s.wrapper.Wrap(dek)
	if err != nil {
		return fmt.Errorf("wrapping instance DEK: %w", err)
	}

	infra := &types.InstanceInfrastructure{
		InstanceID:         inst.ID,
		DBName:             DatabaseName(inst),
		DBPassword:         dbPassword,
		StorageAccessKey:   storageAccessKey,
		StorageSecretKey:   storageSecretKey,
		MediaAPIKey:        mediaAPIKey,
		MediaSecretKey:     mediaSecretKey,
		BootstrapTokenHash: &hash,
		InstanceKEK:        wrapped,
	}
	if err := s.store.CreateInfrastructure(ctx, infra); err != nil {
		return fmt.Errorf("creating infrastructure row: %w", err)
	}
	return nil
}

func (s *generateSecrets) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeSecretsMissing, "no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}
	if infra.DBPassword == "" || infra.StorageAccessKey == "" || infra.StorageSecretKey == "" {
		return pipeline.Errorf(pipeline.CodeSecretsIncomplete,
			"infrastructure row for instance %d is missing credentials", inst.ID)
	}
	return nil
}
