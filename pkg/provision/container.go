package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xcord/hub/pkg/configgen"
	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// startAPIContainer renders the instance's config document, ships it to
// the engine as a secret, and starts the workload container under the
// tier's resource limits. Re-runs short-circuit on a live container and
// restart a stopped one, so the document (and its bootstrap token) is
// only rotated when a fresh container actually needs it.
type startAPIContainer struct {
	store         storage.Store
	engine        drivers.ContainerEngine
	renderer      *configgen.Renderer
	image         string
	readyBudget   time.Duration
	readyInterval time.Duration
}

func (s *startAPIContainer) Name() string { return "StartApiContainer" }

func (s *startAPIContainer) Execute(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeInfrastructureNotFound,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}

	if infra.ContainerID != nil && *infra.ContainerID != "" {
		running, err := s.engine.ContainerRunning(ctx, *infra.ContainerID)
		if err != nil {
			return pipeline.Wrap(pipeline.CodeContainerStartFailed, err, "inspecting container %s", *infra.ContainerID)
		}
		if running {
			return nil
		}
		if err := s.engine.StartStoppedContainer(ctx, *infra.ContainerID); err == nil {
			return nil
		}
		// The recorded container is gone or unstartable. Fall through to
		// a fresh start; the engine replaces any stale same-name container.
		log.WithInstanceID(inst.ID).Warn().
			Str("container_id", *infra.ContainerID).
			Msg("recorded container cannot be restarted, starting a new one")
	}

	if infra.NetworkID == nil || *infra.NetworkID == "" {
		return pipeline.Errorf(pipeline.CodeInfrastructureNotFound,
			"instance %d has no network", inst.ID)
	}

	doc, err := s.renderer.RenderDocument(ctx, inst)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return pipeline.Wrap(pipeline.CodeSecretsMissing, err, "rendering config for %s", inst.Domain)
		case errors.Is(err, configgen.ErrIncomplete):
			return pipeline.Wrap(pipeline.CodeSecretsIncomplete, err, "rendering config for %s", inst.Domain)
		}
		return fmt.Errorf("rendering config for %s: %w", inst.Domain, err)
	}

	// RenderDocument rotated the bootstrap token hash, so the row loaded
	// above is stale. Reload before writing handles through it.
	infra, err = s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("reloading infrastructure: %w", err)
	}

	secretID, err := s.engine.CreateSecret(ctx, inst.Domain, doc.JSON)
	if err != nil {
		return pipeline.Wrap(pipeline.CodeContainerStartFailed, err, "creating config secret for %s", inst.Domain)
	}

	// Persist the secret handle before the container exists: a crash in
	// between must leave the secret findable for destruction.
	infra.SecretID = &secretID
	if err := s.store.UpdateInfrastructure(ctx, infra); err != nil {
		return fmt.Errorf("persisting secret ID %s: %w", secretID, err)
	}

	containerID, err := s.engine.StartContainer(ctx, drivers.ContainerSpec{
		InstanceDomain: inst.Domain,
		Image:          s.image,
		Hostname:       ContainerHostname(inst),
		NetworkID:      *infra.NetworkID,
		SecretID:       secretID,
		SecretPath:     configgen.MountPath,
		MemoryBytes:    doc.Limits.MemoryBytes(),
		CPUQuota:       doc.Limits.CPUQuota(),
		Env:            []string{"XCORD_CONFIG_FILE=" + configgen.MountPath},
		Labels: map[string]string{
			"xcord.instance.id":     strconv.FormatInt(inst.ID, 10),
			"xcord.instance.domain": inst.Domain,
		},
	})
	if err != nil {
		return pipeline.Wrap(pipeline.CodeContainerStartFailed, err, "starting container for %s", inst.Domain)
	}

	infra.ContainerID = &containerID
	if err := s.store.UpdateInfrastructure(ctx, infra); err != nil {
		return fmt.Errorf("persisting container ID %s: %w", containerID, err)
	}
	return nil
}

func (s *startAPIContainer) Verify(ctx context.Context, inst *types.ManagedInstance) error {
	infra, err := s.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return pipeline.Errorf(pipeline.CodeInfrastructureNotFound,
				"no infrastructure row for instance %d", inst.ID)
		}
		return fmt.Errorf("loading infrastructure: %w", err)
	}
	if infra.ContainerID == nil || *infra.ContainerID == "" {
		return pipeline.Errorf(pipeline.CodeContainerNotRunning, "instance %d has no container", inst.ID)
	}
	id := *infra.ContainerID

	deadline := time.Now().Add(s.readyBudget)
	for {
		running, err := s.engine.ContainerRunning(ctx, id)
		if err != nil {
			return pipeline.Wrap(pipeline.CodeContainerNotRunning, err, "inspecting container %s", id)
		}
		if running {
			return nil
		}
		if !time.Now().Before(deadline) {
			return pipeline.Errorf(pipeline.CodeContainerNotRunning,
				"container %s not running after %s", id, s.readyBudget)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.readyInterval):
		}
	}
}
