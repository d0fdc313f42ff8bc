package pipeline

import (
	"context"

	"github.com/xcord/hub/pkg/types"
)

// Step is one unit of pipeline work.
//
// Name is the event-log key: it must never change for a deployed step,
// or resume logic will stop recognizing history written under the old
// name. Execute produces the side effect and must be idempotent, either
// by checking the database for prior completion or by calling a driver
// operation that is itself idempotent. Verify is a read-only
// post-condition probe; steps whose effects are purely in-database
// return nil immediately.
//
// The instance row passed in is the one loaded right before the step
// ran. Fields another step wrote earlier in the same run are already
// visible on it; anything else a step depends on it reloads itself.
type Step interface {
	Name() string
	Execute(ctx context.Context, inst *types.ManagedInstance) error
	Verify(ctx context.Context, inst *types.ManagedInstance) error
}

// FinalizeFunc runs once after the last step of a best-effort pipeline.
type FinalizeFunc func(ctx context.Context, inst *types.ManagedInstance) error

// Pipeline is a fixed ordered step list plus the policy the executor
// applies while driving it.
type Pipeline struct {
	Kind  types.PipelineKind
	Steps []Step

	// Resume consults the event log before the first step and skips
	// every step already applied. Suspend/resume leave this off; their
	// steps are cheap and always re-run.
	Resume bool

	// BestEffort downgrades exhausted step failures to warnings: the
	// run continues with the next step instead of marking the instance
	// Failed. Destruction must converge no matter what is missing.
	BestEffort bool

	// Terminal is asserted on the instance after the last step when no
	// Finalize hook is set. For provisioning this re-asserts what
	// ActivateInstance already wrote; the update is idempotent.
	Terminal types.InstanceStatus

	// Finalize replaces the Terminal assert when set. Destruction uses
	// it to tombstone the worker ID and soft-delete the row. Its error
	// is logged and never fails the run.
	Finalize FinalizeFunc
}
