package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/google/uuid"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/log"
)

const (
	labelDomain = "xcord.instance.domain"
	labelRole   = "xcord.role"

	stopGraceSeconds = 10
)

// Options configures the engine driver beyond the API endpoint.
type Options struct {
	// SharedNetwork is the pre-existing infra network every instance
	// container joins in addition to its private one.
	SharedNetwork string
	// Image is used for config seed scratch containers. Any image
	// present on the engine works; the instance image always is.
	Image string
	// ConfigFile is the file name the config artifact is seeded under
	// at the volume root, the base name of ContainerSpec.SecretPath.
	ConfigFile string
}

// Engine drives a container engine over its HTTP API. Instance
// workloads run as plain containers named after their engine-side
// hostname; the rendered config document rides a labeled named volume
// mounted read-only, so it never appears in inspect output or the
// environment.
type Engine struct {
	cli  client.APIClient
	opts Options
}

var _ drivers.ContainerEngine = (*Engine)(nil)

// New connects to the engine at endpoint. An empty endpoint falls back
// to the DOCKER_HOST environment, which also supplies TLS material for
// tcp:// endpoints.
func New(endpoint string, opts Options) (*Engine, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if endpoint != "" {
		clientOpts = append(clientOpts, client.WithHost(endpoint))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to container engine: %w", err)
	}
	return &Engine{cli: cli, opts: opts}, nil
}

// Ping checks the engine API, for readiness probes.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// Close releases the underlying HTTP client.
func (e *Engine) Close() error {
	return e.cli.Close()
}

// CreateNetwork creates the instance's private bridge network, reusing
// an existing one by name so a replayed step converges.
func (e *Engine) CreateNetwork(ctx context.Context, instanceDomain string) (string, error) {
	name := networkName(instanceDomain)

	existing, err := e.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return existing.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspecting network %s: %w", name, err)
	}

	created, err := e.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{labelDomain: instanceDomain},
	})
	if err != nil {
		return "", fmt.Errorf("creating network %s: %w", name, err)
	}
	return created.ID, nil
}

func (e *Engine) NetworkExists(ctx context.Context, networkID string) (bool, error) {
	_, err := e.cli.NetworkInspect(ctx, networkID, network.InspectOptions{})
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspecting network %s: %w", networkID, err)
}

func (e *Engine) RemoveNetwork(ctx context.Context, networkID string) error {
	err := e.cli.NetworkRemove(ctx, networkID)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing network %s: %w", networkID, err)
	}
	return nil
}

// CreateSecret materializes the config document as a fresh named
// volume, seeded through a never-started scratch container (the
// archive endpoint writes through volume mounts on created
// containers). Older config volumes for the domain are swept first;
// one still pinned by a stale container is skipped and caught on the
// next render, after container replacement unpins it.
func (e *Engine) CreateSecret(ctx context.Context, instanceDomain string, payload []byte) (string, error) {
	logger := log.WithComponent("engine")

	stale, err := e.cli.VolumeList(ctx, volume.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", labelDomain+"="+instanceDomain),
			filters.Arg("label", labelRole+"=config"),
		),
	})
	if err != nil {
		return "", fmt.Errorf("listing config volumes for %s: %w", instanceDomain, err)
	}
	for _, v := range stale.Volumes {
		if err := e.cli.VolumeRemove(ctx, v.Name, false); err != nil && !errdefs.IsNotFound(err) {
			logger.Debug().Str("volume", v.Name).Err(err).
				Msg("stale config volume still pinned, sweeping later")
		}
	}

	name := fmt.Sprintf("xcord-cfg-%s-%s",
		strings.ReplaceAll(instanceDomain, ".", "-"), uuid.New().String()[:8])
	if _, err := e.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name: name,
		Labels: map[string]string{
			labelDomain: instanceDomain,
			labelRole:   "config",
		},
	}); err != nil {
		return "", fmt.Errorf("creating config volume %s: %w", name, err)
	}

	if err := e.seedVolume(ctx, name, payload); err != nil {
		if rerr := e.cli.VolumeRemove(ctx, name, false); rerr != nil && !errdefs.IsNotFound(rerr) {
			logger.Warn().Str("volume", name).Err(rerr).Msg("removing half-seeded config volume")
		}
		return "", err
	}
	return name, nil
}

// seedVolume writes the payload into the volume root as the config
// file, via a created (never started) container.
func (e *Engine) seedVolume(ctx context.Context, volumeName string, payload []byte) error {
	const seedDir = "/seed"

	created, err := e.createContainer(ctx,
		&container.Config{
			Image:  e.opts.Image,
			Labels: map[string]string{labelRole: "config-seed"},
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeVolume,
				Source: volumeName,
				Target: seedDir,
			}},
		},
		nil, "xcord-seed-"+volumeName)
	if err != nil {
		return fmt.Errorf("creating seed container for %s: %w", volumeName, err)
	}
	defer func() {
		if err := e.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true}); err != nil &&
			!errdefs.IsNotFound(err) {
			logger := log.WithComponent("engine")
			logger.Warn().Str("container", created.ID).Err(err).
				Msg("removing seed container")
		}
	}()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: e.opts.ConfigFile,
		Mode: 0o400,
		Size: int64(len(payload)),
	}); err != nil {
		return fmt.Errorf("building config archive: %w", err)
	}
	if _, err := tw.Write(payload); err != nil {
		return fmt.Errorf("building config archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("building config archive: %w", err)
	}

	if err := e.cli.CopyToContainer(ctx, created.ID, seedDir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("seeding config volume %s: %w", volumeName, err)
	}
	return nil
}

func (e *Engine) RemoveSecret(ctx context.Context, secretID string) error {
	err := e.cli.VolumeRemove(ctx, secretID, false)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing config volume %s: %w", secretID, err)
	}
	return nil
}

// StartContainer creates and starts the workload container. A stale
// same-name container from an interrupted attempt is removed and
// replaced. The container joins its private network at create and the
// shared infra network before start, and is named spec.Hostname so the
// proxy resolves it over the engine's DNS.
func (e *Engine) StartContainer(ctx context.Context, spec drivers.ContainerSpec) (string, error) {
	config := &container.Config{
		Image:    spec.Image,
		Hostname: spec.Hostname,
		Env:      spec.Env,
		Labels:   spec.Labels,
	}
	hostConfig := &container.HostConfig{
		// unless-stopped, not always: a suspended instance's container
		// must stay parked across engine restarts.
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			CPUQuota: spec.CPUQuota,
		},
		Mounts: []mount.Mount{{
			Type:     mount.TypeVolume,
			Source:   spec.SecretID,
			Target:   path.Dir(spec.SecretPath),
			ReadOnly: true,
		}},
	}
	networking := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.NetworkID: {},
		},
	}

	created, err := e.createContainer(ctx, config, hostConfig, networking, spec.Hostname)
	if errdefs.IsConflict(err) {
		if err := e.removeByName(ctx, spec.Hostname); err != nil {
			return "", err
		}
		created, err = e.createContainer(ctx, config, hostConfig, networking, spec.Hostname)
	}
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", spec.Hostname, err)
	}

	if err := e.cli.NetworkConnect(ctx, e.opts.SharedNetwork, created.ID, &network.EndpointSettings{}); err != nil {
		return "", fmt.Errorf("connecting %s to shared network: %w", spec.Hostname, err)
	}
	if err := e.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %s: %w", spec.Hostname, err)
	}
	return created.ID, nil
}

// createContainer creates a container, pulling the image first when
// the engine does not have it yet.
func (e *Engine) createContainer(ctx context.Context, config *container.Config,
	hostConfig *container.HostConfig, networking *network.NetworkingConfig, name string,
) (container.CreateResponse, error) {
	created, err := e.cli.ContainerCreate(ctx, config, hostConfig, networking, nil, name)
	if errdefs.IsNotFound(err) {
		if perr := e.pullImage(ctx, config.Image); perr != nil {
			return created, perr
		}
		created, err = e.cli.ContainerCreate(ctx, config, hostConfig, networking, nil, name)
	}
	return created, err
}

func (e *Engine) pullImage(ctx context.Context, ref string) error {
	logger := log.WithComponent("engine")
	logger.Info().Str("image", ref).Msg("pulling image")
	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once its progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return nil
}

// removeByName force-removes any container holding the name.
func (e *Engine) removeByName(ctx context.Context, name string) error {
	list, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return fmt.Errorf("listing containers named %s: %w", name, err)
	}
	for _, c := range list {
		logger := log.WithComponent("engine")
		logger.Warn().Str("container", c.ID).Str("name", name).
			Msg("replacing stale container")
		if err := e.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil &&
			!errdefs.IsNotFound(err) {
			return fmt.Errorf("removing stale container %s: %w", c.ID, err)
		}
	}
	return nil
}

func (e *Engine) StartStoppedContainer(ctx context.Context, containerID string) error {
	if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", containerID, err)
	}
	return nil
}

func (e *Engine) ContainerRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := e.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting container %s: %w", containerID, err)
	}
	return info.State != nil && info.State.Running, nil
}

// StopContainer stops with the standard grace period. The engine call
// blocks until the container has actually stopped, so a verify
// immediately after sees the settled state.
func (e *Engine) StopContainer(ctx context.Context, containerID string) error {
	grace := stopGraceSeconds
	err := e.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stopping container %s: %w", containerID, err)
	}
	return nil
}

func (e *Engine) RemoveContainer(ctx context.Context, containerID string) error {
	err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing container %s: %w", containerID, err)
	}
	return nil
}

// networkName derives the engine-side private network name. The full
// domain is encoded so reused subdomains under different base domains
// never collide.
func networkName(instanceDomain string) string {
	return "xcord-net-" + strings.ReplaceAll(instanceDomain, ".", "-")
}
