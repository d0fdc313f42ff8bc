package destroy

import (
	"context"
	"fmt"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// removeObjectStoreBucket drains and deletes the media bucket, then the
// per-instance principal and policy. The driver owns the drain budget;
// every sub-step tolerates resources that are already gone.
type removeObjectStoreBucket struct {
	store        storage.Store
	objects      drivers.ObjectStoreManager
	bucketPrefix string
}

func (s *removeObjectStoreBucket) Name() string { return "RemoveObjectStoreBucket" }

func (s *removeObjectStoreBucket) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, ok, err := loadInfra(ctx, s.store, inst)
	if err != nil {
		return err
	}
	if !ok {
		logger := log.WithInstanceID(inst.ID)
		logger.Debug().Msg("bucket removal skipped: no infrastructure recorded")
		return nil
	}

	bucket := inst.BucketName(s.bucketPrefix)
	if err := s.objects.DeprovisionBucket(ctx, bucket, infra.StorageAccessKey); err != nil {
		return fmt.Errorf("deprovisioning bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *removeObjectStoreBucket) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}
