package destroy

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/configgen"
	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/provision"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/storage/storagetest"
	"github.com/xcord/hub/pkg/tier"
	"github.com/xcord/hub/pkg/types"
)

var destroyOrder = []string{
	"NotifyShuttingDown",
	"StopContainer",
	"RemoveProxyRoute",
	"RemoveDnsRecord",
	"RemoveContainer",
	"RemoveNetwork",
	"RemoveObjectStoreBucket",
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.BaseDomain = "xcord.io"
	cfg.Database.InstanceHost = "db.internal"
	cfg.Database.InstancePort = 5432
	cfg.Database.SSLMode = "disable"
	cfg.Redis.URL = "redis://cache.internal:6379"
	cfg.Engine.InstanceImage = "ghcr.io/xcord/instance:v1.4.2"
	cfg.DNS.GatewayIP = "203.0.113.10"
	cfg.ObjectStore.Endpoint = "https://store.internal:9000"
	cfg.ObjectStore.BucketPrefix = "xcord"
	cfg.Media.Host = "media.internal:7880"
	cfg.Auth.BcryptWorkFactor = 12
	cfg.FederationEndpoint = "https://hub.xcord.io"
	return cfg
}

type fakeMaint struct {
	databases map[string]bool
}

func (m *fakeMaint) DatabaseExists(_ context.Context, name string) (bool, error) {
	return m.databases[name], nil
}

func (m *fakeMaint) EnsureRole(context.Context, string, string) error { return nil }

func (m *fakeMaint) CreateDatabase(_ context.Context, name, _ string) error {
	m.databases[name] = true
	return nil
}

type harness struct {
	store *storagetest.Store
	stub  *drivers.Stub
	exec  *pipeline.Executor
	prov  pipeline.Pipeline
	dest  pipeline.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := storagetest.New()
	stub := drivers.NewStub()
	catalog, err := tier.Default()
	require.NoError(t, err)
	wrapper, err := security.NewKeyWrapper(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	cfg := testConfig()

	prov := provision.New(provision.Deps{
		Store:         store,
		Drivers:       stub.Set(),
		Cfg:           cfg,
		Catalog:       catalog,
		Renderer:      configgen.NewRenderer(cfg, catalog, store),
		Wrapper:       wrapper,
		Maint:         &fakeMaint{databases: make(map[string]bool)},
		ReadyBudget:   200 * time.Millisecond,
		ReadyInterval: time.Millisecond,
	})
	dest := New(Deps{
		Store:         store,
		Drivers:       stub.Set(),
		Cfg:           cfg,
		NotifyTimeout: 50 * time.Millisecond,
		Grace:         time.Millisecond,
	})

	return &harness{
		store: store,
		stub:  stub,
		exec:  pipeline.NewExecutor(store, pipeline.WithBackoff([]time.Duration{0, 0, 0})),
		prov:  prov,
		dest:  dest,
	}
}

// provisionRunning drives a fresh instance through the full provisioning
// pipeline so destruction has real state to tear down.
func provisionRunning(t *testing.T, h *harness, domain string) *types.ManagedInstance {
	t.Helper()
	ctx := context.Background()

	inst := &types.ManagedInstance{
		OwnerID:     7,
		Domain:      domain,
		DisplayName: "Acme Corp",
		Status:      types.InstanceStatusProvisioning,
	}
	require.NoError(t, h.store.CreateInstance(ctx, inst))
	require.NoError(t, h.store.CreateBilling(ctx, &types.InstanceBilling{
		InstanceID:    inst.ID,
		FeatureTier:   types.FeatureTierVideo,
		UserCountTier: 50,
		Status:        types.BillingStatusActive,
	}))
	require.NoError(t, h.exec.Run(ctx, h.prov, inst.ID))

	got, err := h.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, types.InstanceStatusRunning, got.Status)
	return got
}

func destroyEvents(t *testing.T, store storage.Store, instanceID int64) []*types.ProvisioningEvent {
	t.Helper()
	events, err := store.ListEvents(context.Background(), instanceID, types.PipelineDestroy)
	require.NoError(t, err)
	return events
}

func TestDestroyHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst := provisionRunning(t, h, "acme.xcord.io")

	infra, err := h.store.GetInfrastructure(ctx, inst.ID)
	require.NoError(t, err)

	require.NoError(t, h.store.UpdateInstanceStatus(ctx, inst.ID, types.InstanceStatusDestroying))
	require.NoError(t, h.exec.Run(ctx, h.dest, inst.ID))

	got, err := h.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStatusDestroyed, got.Status)
	assert.NotNil(t, got.DeletedAt)

	// Every external resource is gone.
	exists, err := h.stub.NetworkExists(ctx, *infra.NetworkID)
	require.NoError(t, err)
	assert.False(t, exists)
	running, err := h.stub.ContainerRunning(ctx, *infra.ContainerID)
	require.NoError(t, err)
	assert.False(t, running)
	routed, err := h.stub.VerifyRoute(ctx, *infra.ProxyRouteID)
	require.NoError(t, err)
	assert.False(t, routed)
	_, ok := h.stub.LookupARecord("acme")
	assert.False(t, ok)
	assert.False(t, h.stub.HasBucket("xcord-acme"))

	// The config secret went with the container.
	secretRemovals := h.stub.CallsFor("RemoveSecret")
	require.Len(t, secretRemovals, 1)
	assert.Equal(t, *infra.SecretID, secretRemovals[0].Target)

	// The instance got its courtesy notice.
	assert.Equal(t, []string{"acme.xcord.io: instance destruction requested"}, h.stub.Notices())

	// Two completed events per step, in teardown order.
	events := destroyEvents(t, h.store, inst.ID)
	require.Len(t, events, 2*len(destroyOrder))
	for i, step := range destroyOrder {
		assert.Equal(t, step, events[2*i].StepName)
		assert.Equal(t, types.EventCompleted, events[2*i].Status)
		assert.Equal(t, step, events[2*i+1].StepName)
		assert.Equal(t, types.EventCompleted, events[2*i+1].Status)
	}

	// The worker ID is pinned forever: the next allocation skips it.
	next := &types.ManagedInstance{OwnerID: 8, Domain: "beta.xcord.io", Status: types.InstanceStatusProvisioning}
	require.NoError(t, h.store.CreateInstance(ctx, next))
	id, err := h.store.AllocateWorkerID(ctx, next.ID)
	require.NoError(t, err)
	assert.Greater(t, id, *inst.WorkerID)
}

func TestDestroyPartiallyProvisioned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Crash state: network created, container never started.
	inst := &types.ManagedInstance{
		OwnerID: 7,
		Domain:  "acme.xcord.io",
		Status:  types.InstanceStatusProvisioning,
	}
	require.NoError(t, h.store.CreateInstance(ctx, inst))
	workerID, err := h.store.AllocateWorkerID(ctx, inst.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.SetInstanceWorkerID(ctx, inst.ID, workerID))

	networkID, err := h.stub.CreateNetwork(ctx, inst.Domain)
	require.NoError(t, err)
	require.NoError(t, h.store.CreateInfrastructure(ctx, &types.InstanceInfrastructure{
		InstanceID:       inst.ID,
		NetworkID:        &networkID,
		DBName:           "xcord_acme",
		DBPassword:       "pw12345",
		StorageAccessKey: "AK",
		StorageSecretKey: "SK",
	}))

	require.NoError(t, h.store.UpdateInstanceStatus(ctx, inst.ID, types.InstanceStatusDestroying))
	require.NoError(t, h.exec.Run(ctx, h.dest, inst.ID))

	got, err := h.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStatusDestroyed, got.Status)

	exists, err := h.stub.NetworkExists(ctx, networkID)
	require.NoError(t, err)
	assert.False(t, exists)

	// No container ever existed: nothing was notified or stopped, and
	// the skipped steps still completed.
	assert.Empty(t, h.stub.Notices())
	assert.Empty(t, h.stub.CallsFor("StopContainer"))
	assert.Empty(t, h.stub.CallsFor("RemoveContainer"))
	for _, e := range destroyEvents(t, h.store, inst.ID) {
		assert.Equal(t, types.EventCompleted, e.Status)
	}

	// Tombstoned, not freed.
	_, err = h.store.GetWorkerIDAllocation(ctx, inst.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDestroyNeverProvisioned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	inst := &types.ManagedInstance{
		OwnerID: 7,
		Domain:  "acme.xcord.io",
		Status:  types.InstanceStatusPending,
	}
	require.NoError(t, h.store.CreateInstance(ctx, inst))
	require.NoError(t, h.store.UpdateInstanceStatus(ctx, inst.ID, types.InstanceStatusDestroying))

	require.NoError(t, h.exec.Run(ctx, h.dest, inst.ID))

	got, err := h.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStatusDestroyed, got.Status)
	assert.NotNil(t, got.DeletedAt)

	// The DNS delete always runs (keyed by subdomain); everything that
	// needs a stored handle or an infra row was skipped.
	assert.Len(t, h.stub.CallsFor("DeleteARecord"), 1)
	assert.Empty(t, h.stub.CallsFor("DeprovisionBucket"))
	assert.Empty(t, h.stub.Notices())
}

func TestDestroyBestEffortPastEngineOutage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst := provisionRunning(t, h, "acme.xcord.io")

	h.stub.FailAlways("StopContainer", errors.New("engine unavailable"))

	require.NoError(t, h.store.UpdateInstanceStatus(ctx, inst.ID, types.InstanceStatusDestroying))
	require.NoError(t, h.exec.Run(ctx, h.dest, inst.ID))

	// StopContainer burned its retries and the run still converged.
	assert.Len(t, h.stub.CallsFor("StopContainer"), 3)
	got, err := h.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStatusDestroyed, got.Status)
	assert.False(t, h.stub.HasBucket("xcord-acme"))

	var failed int
	for _, e := range destroyEvents(t, h.store, inst.ID) {
		if e.StepName == "StopContainer" && e.Status == types.EventFailed {
			failed++
		}
	}
	assert.Equal(t, 3, failed)
}

func TestDestroyResumeSkipsCompletedSteps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst := provisionRunning(t, h, "acme.xcord.io")
	require.NoError(t, h.store.UpdateInstanceStatus(ctx, inst.ID, types.InstanceStatusDestroying))

	// A previous run crashed after the fifth step: its history is in the
	// log but the network and bucket still exist.
	for _, step := range destroyOrder[:5] {
		for _, phase := range []types.StepPhase{types.PhaseExecute, types.PhaseVerify} {
			e := &types.ProvisioningEvent{
				InstanceID: inst.ID,
				Pipeline:   types.PipelineDestroy,
				StepName:   step,
				Phase:      phase,
				Status:     types.EventInProgress,
			}
			require.NoError(t, h.store.InsertEvent(ctx, e))
			require.NoError(t, h.store.CompleteEvent(ctx, e.ID, types.EventCompleted, nil))
		}
	}

	require.NoError(t, h.exec.Run(ctx, h.dest, inst.ID))

	got, err := h.store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStatusDestroyed, got.Status)

	// Only the remaining two steps ran.
	assert.Empty(t, h.stub.Notices())
	assert.Empty(t, h.stub.CallsFor("StopContainer"))
	assert.Empty(t, h.stub.CallsFor("RemoveContainer"))
	assert.Len(t, h.stub.CallsFor("RemoveNetwork"), 1)
	assert.Len(t, h.stub.CallsFor("DeprovisionBucket"), 1)
	assert.False(t, h.stub.HasBucket("xcord-acme"))
}

func TestDestroyStepNamesArePinned(t *testing.T) {
	h := newHarness(t)
	require.Len(t, h.dest.Steps, len(destroyOrder))
	for i, step := range h.dest.Steps {
		assert.Equal(t, destroyOrder[i], step.Name())
	}
}
