package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
	"github.com/xcord/hub/test/framework"
)

// Each test gets its own scratch database, so fixed domains never
// collide across tests.
func newInstance(domain string) *types.ManagedInstance {
	return &types.ManagedInstance{
		OwnerID:     7001,
		Domain:      domain,
		DisplayName: "Integration",
		Status:      types.InstanceStatusPending,
	}
}

func TestMigrationsApply(t *testing.T) {
	store := framework.ScratchStore(t)

	version, err := storage.MigrationStatus(context.Background(), store.DB().DB)
	require.NoError(t, err)
	assert.Greater(t, version, int64(0))
}

func TestDomainLifecycle(t *testing.T) {
	store := framework.ScratchStore(t)
	ctx := context.Background()

	first := newInstance("acme.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, first))

	got, err := store.GetInstance(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme.xcord.io", got.Domain)
	assert.Equal(t, types.InstanceStatusPending, got.Status)

	live, err := store.GetLiveInstanceByDomain(ctx, "acme.xcord.io")
	require.NoError(t, err)
	assert.Equal(t, first.ID, live.ID)

	// A second live row on the same domain bounces off the partial
	// unique index.
	err = store.CreateInstance(ctx, newInstance("acme.xcord.io"))
	require.ErrorIs(t, err, storage.ErrDomainTaken)

	// Destruction soft-deletes: the row survives for audit, the domain
	// frees up for reuse.
	require.NoError(t, store.MarkInstanceDestroyed(ctx, first.ID))

	gone, err := store.GetInstance(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStatusDestroyed, gone.Status)
	require.NotNil(t, gone.DeletedAt)

	_, err = store.GetLiveInstanceByDomain(ctx, "acme.xcord.io")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.CreateInstance(ctx, newInstance("acme.xcord.io")))
}

func TestWorkerIDRegistry(t *testing.T) {
	store := framework.ScratchStore(t)
	ctx := context.Background()

	a := newInstance("a.xcord.io")
	b := newInstance("b.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, a))
	require.NoError(t, store.CreateInstance(ctx, b))

	idA, err := store.AllocateWorkerID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MinInstanceWorkerID, idA)

	// Allocation is idempotent per instance.
	again, err := store.AllocateWorkerID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, idA, again)

	idB, err := store.AllocateWorkerID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, idA+1, idB)

	// A tombstoned row pins its ID forever; the next allocation walks
	// past it.
	require.NoError(t, store.TombstoneWorkerID(ctx, a.ID))
	alloc, err := store.GetWorkerIDAllocation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, alloc.IsTombstoned)
	require.NotNil(t, alloc.ReleasedAt)

	c := newInstance("c.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, c))
	idC, err := store.AllocateWorkerID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, idB+1, idC)
}

func TestQueueOverPostgres(t *testing.T) {
	store := framework.ScratchStore(t)
	ctx := context.Background()
	q := queue.New(store)

	older := newInstance("older.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, older))
	// created_at carries the FIFO order; keep the rows a tick apart.
	time.Sleep(5 * time.Millisecond)
	newer := newInstance("newer.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, newer))

	require.NoError(t, q.Enqueue(ctx, older.ID, types.PipelineProvision))
	require.NoError(t, q.Enqueue(ctx, newer.ID, types.PipelineProvision))

	// Re-enqueueing for the same kind is a no-op, any other kind is
	// rejected while the instance is queued.
	require.NoError(t, q.Enqueue(ctx, older.ID, types.PipelineProvision))
	err := q.Enqueue(ctx, older.ID, types.PipelineSuspend)
	require.ErrorIs(t, err, queue.ErrIllegalTransition)

	depth, err := q.Depth(ctx, types.PipelineProvision)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	head, err := q.Dequeue(ctx, types.PipelineProvision)
	require.NoError(t, err)
	assert.Equal(t, older.ID, head.ID)

	second, err := q.Dequeue(ctx, types.PipelineProvision)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, second.ID)

	_, err = q.Dequeue(ctx, types.PipelineProvision)
	require.ErrorIs(t, err, queue.ErrEmpty)

	// Releasing a claim puts the row back in line.
	q.Release(newer.ID)
	reread, err := q.Dequeue(ctx, types.PipelineProvision)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, reread.ID)
}

func TestBootstrapTokenBurn(t *testing.T) {
	store := framework.ScratchStore(t)
	ctx := context.Background()

	inst := newInstance("burn.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, inst))

	hash := "0f1e2d3c4b5a6978"
	infra := &types.InstanceInfrastructure{
		InstanceID:         inst.ID,
		DBName:             "xcord_burn",
		DBPassword:         "pw",
		StorageAccessKey:   "ak",
		StorageSecretKey:   "sk",
		MediaAPIKey:        "mk",
		MediaSecretKey:     "ms",
		BootstrapTokenHash: &hash,
		InstanceKEK:        []byte{1, 2, 3},
	}
	require.NoError(t, store.CreateInfrastructure(ctx, infra))

	burned, err := store.ClearBootstrapToken(ctx, inst.ID, "mismatched-hash")
	require.NoError(t, err)
	assert.False(t, burned)

	burned, err = store.ClearBootstrapToken(ctx, inst.ID, hash)
	require.NoError(t, err)
	assert.True(t, burned)

	// The compare-and-clear admits exactly one winner.
	burned, err = store.ClearBootstrapToken(ctx, inst.ID, hash)
	require.NoError(t, err)
	assert.False(t, burned)

	got, err := store.GetInfrastructure(ctx, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BootstrapTokenHash)
}

func TestEventLedger(t *testing.T) {
	store := framework.ScratchStore(t)
	ctx := context.Background()

	inst := newInstance("events.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, inst))

	ok := &types.ProvisioningEvent{
		InstanceID: inst.ID,
		Pipeline:   types.PipelineProvision,
		StepName:   "AllocateWorkerId",
		Phase:      types.PhaseExecute,
		Status:     types.EventInProgress,
	}
	require.NoError(t, store.InsertEvent(ctx, ok))
	require.NoError(t, store.CompleteEvent(ctx, ok.ID, types.EventCompleted, nil))

	msg := "engine unreachable"
	failed := &types.ProvisioningEvent{
		InstanceID: inst.ID,
		Pipeline:   types.PipelineProvision,
		StepName:   "StartApiContainer",
		Phase:      types.PhaseExecute,
		Status:     types.EventInProgress,
	}
	require.NoError(t, store.InsertEvent(ctx, failed))
	require.NoError(t, store.CompleteEvent(ctx, failed.ID, types.EventFailed, &msg))

	// A destroy event on the same instance stays out of provision reads.
	other := &types.ProvisioningEvent{
		InstanceID: inst.ID,
		Pipeline:   types.PipelineDestroy,
		StepName:   "StopContainer",
		Phase:      types.PhaseExecute,
		Status:     types.EventInProgress,
	}
	require.NoError(t, store.InsertEvent(ctx, other))

	got, err := store.ListEvents(ctx, inst.ID, types.PipelineProvision)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "AllocateWorkerId", got[0].StepName)
	assert.Equal(t, types.EventCompleted, got[0].Status)
	require.NotNil(t, got[0].CompletedAt)

	assert.Equal(t, "StartApiContainer", got[1].StepName)
	assert.Equal(t, types.EventFailed, got[1].Status)
	require.NotNil(t, got[1].ErrorMessage)
	assert.Equal(t, msg, *got[1].ErrorMessage)
}

func TestFederationTokenRows(t *testing.T) {
	store := framework.ScratchStore(t)
	ctx := context.Background()

	inst := newInstance("fed.xcord.io")
	require.NoError(t, store.CreateInstance(ctx, inst))

	token := &types.FederationToken{
		InstanceID: inst.ID,
		TokenHash:  "a1b2c3d4e5f6",
	}
	require.NoError(t, store.CreateFederationToken(ctx, token))

	got, err := store.GetFederationTokenByHash(ctx, "a1b2c3d4e5f6")
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)
	assert.Equal(t, inst.ID, got.InstanceID)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, store.TouchFederationToken(ctx, token.ID))
	got, err = store.GetFederationTokenByHash(ctx, "a1b2c3d4e5f6")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)

	// Revoked tokens vanish from hash lookups; the row itself stays.
	require.NoError(t, store.RevokeFederationToken(ctx, token.ID))
	_, err = store.GetFederationTokenByHash(ctx, "a1b2c3d4e5f6")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
