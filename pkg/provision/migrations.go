package provision

import (
	"context"

	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/types"
)

// runMigrations is deliberately inert. The instance image migrates its
// own schema on first boot against the database ProvisionDatabase
// created; the step exists so the event log records that the handoff
// point was reached, which keeps resume ordering stable if the hub
// ever takes migrations back.
type runMigrations struct{}

func (s *runMigrations) Name() string { return "RunMigrations" }

func (s *runMigrations) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	log.WithInstanceID(inst.ID).Debug().Msg("schema migration delegated to instance startup")
	return nil
}

func (s *runMigrations) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	return nil
}
