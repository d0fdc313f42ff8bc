package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// provisionDatabase creates the per-instance Postgres role and database
// on the shared cluster. The role name doubles as the database name so
// the instance's DSN needs only one credential pair.
type provisionDatabase struct {
	store storage.Store
	maint MaintenanceDB
}

func (s *provisionDatabase) Name() string { return "ProvisionDatabase" }

func (s *provisionDatabase) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeSecretsMissing,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}
	if infra.DBPassword == "" {
		return pipeline.Errorf(pipeline.CodeSecretsIncomplete,
			"infrastructure row for instance %d has no database password", inst.ID)
	}

	exists, err := s.maint.DatabaseExists(ctx, infra.DBName)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeDBProvisionFailed, err, "probing for database %s", infra.DBName)
	}

	// EnsureRole runs even when the database exists: a crash between
	// role creation and CREATE DATABASE leaves either half missing, and
	// re-asserting the password converges both.
	if err := s.maint.EnsureRole(ctx, infra.DBName, infra.DBPassword); err != nil {
		return pipeline.Wrap(pipeline.CodeDBProvisionFailed, err, "ensuring role %s", infra.DBName)
	}
	if !exists {
		if err := s.maint.CreateDatabase(ctx, infra.DBName, infra.DBName); err != nil {
			return pipeline.Wrap(pipeline.CodeDBProvisionFailed, err, "creating database %s", infra.DBName)
		}
	}
	return nil
}

func (s *provisionDatabase) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeSecretsMissing,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}
	exists, err := s.maint.DatabaseExists(ctx, infra.DBName)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeDBNotFound, err, "probing for database %s", infra.DBName)
	}
	if !exists {
		return pipeline.Errorf(pipeline.CodeDBNotFound, "database %s does not exist after provisioning", infra.DBName)
	}
	return nil
}
