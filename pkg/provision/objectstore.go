package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/metrics"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// provisionObjectStore creates the instance's media bucket and a
// scoped credential pair for it. When the object store cannot mint
// per-instance credentials the driver falls back to the root pair;
// that degradation is persisted so operators can find and repair the
// affected instances later.
type provisionObjectStore struct {
	store        storage.Store
	objects      drivers.ObjectStoreManager
	bucketPrefix string
}

func (s *provisionObjectStore) Name() string { return "ProvisionObjectStore" }

func (s *provisionObjectStore) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeSecretsMissing,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}
	if infra.StorageAccessKey == "" || infra.StorageSecretKey == "" {
		return pipeline.Errorf(pipeline.CodeSecretsIncomplete,
			"infrastructure row for instance %d has no storage credentials", inst.ID)
	}

	bucket := inst.BucketName(s.bucketPrefix)
	creds, err := s.objects.ProvisionBucket(ctx, bucket, infra.StorageAccessKey, infra.StorageSecretKey)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeMinioProvisionFailed, err, "provisioning bucket %s", bucket)
	}

	if creds.RootFallback {
		log.WithInstanceID(inst.ID).Warn().
			Str("bucket", bucket).
			Msg("object store credential provisioning degraded to root fallback")
		metrics.ObjectStoreRootFallback.Inc()
	}

	// The driver may substitute credentials (root fallback), so the
	// pair it returns is the pair the instance must use.
	if creds.AccessKey != infra.StorageAccessKey || creds.SecretKey != infra.StorageSecretKey || creds.RootFallback != infra.StorageRootFallback {
		infra.StorageAccessKey = creds.AccessKey
		infra.StorageSecretKey = creds.SecretKey
		infra.StorageRootFallback = creds.RootFallback
		if err := s.store.UpdateInfrastructure(ctx, infra); err != nil {
			return fmt.Errorf("persisting storage credentials: %w", err)
		}
	}
	return nil
}

func (s *provisionObjectStore) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeSecretsMissing,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}

	bucket := inst.BucketName(s.bucketPrefix)
	ok, err := s.objects.VerifyBucket(ctx, bucket, infra.StorageAccessKey, infra.StorageSecretKey)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeBucketVerifyFailed, err, "verifying bucket %s", bucket)
	}
	if !ok {
		return pipeline.Errorf(pipeline.CodeBucketVerifyFailed,
			"bucket %s is not accessible with the instance credentials", bucket)
	}
	return nil
}
