package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/storage/storagetest"
	"github.com/xcord/hub/pkg/types"
)

func seedInstance(t *testing.T, store *storagetest.Store, domain string, status types.InstanceStatus) *types.ManagedInstance {
	t.Helper()
	instance := &types.ManagedInstance{
		OwnerID:     7,
		Domain:      domain,
		DisplayName: domain,
		Status:      status,
	}
	require.NoError(t, store.CreateInstance(context.Background(), instance))
	return instance
}

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name    string
		status  types.InstanceStatus
		kind    types.PipelineKind
		want    types.InstanceStatus
		wantErr error
	}{
		{
			name:   "pending to provision",
			status: types.InstanceStatusPending,
			kind:   types.PipelineProvision,
			want:   types.InstanceStatusProvisioning,
		},
		{
			name:   "failed to provision retry",
			status: types.InstanceStatusFailed,
			kind:   types.PipelineProvision,
			want:   types.InstanceStatusProvisioning,
		},
		{
			name:   "running to destroy",
			status: types.InstanceStatusRunning,
			kind:   types.PipelineDestroy,
			want:   types.InstanceStatusDestroying,
		},
		{
			name:   "pending to destroy",
			status: types.InstanceStatusPending,
			kind:   types.PipelineDestroy,
			want:   types.InstanceStatusDestroying,
		},
		{
			name:   "running to suspend",
			status: types.InstanceStatusRunning,
			kind:   types.PipelineSuspend,
			want:   types.InstanceStatusSuspending,
		},
		{
			name:   "suspended to resume",
			status: types.InstanceStatusSuspended,
			kind:   types.PipelineResume,
			want:   types.InstanceStatusResuming,
		},
		{
			name:   "already queued is a no-op",
			status: types.InstanceStatusProvisioning,
			kind:   types.PipelineProvision,
			want:   types.InstanceStatusProvisioning,
		},
		{
			name:    "running cannot re-provision",
			status:  types.InstanceStatusRunning,
			kind:    types.PipelineProvision,
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "pending cannot suspend",
			status:  types.InstanceStatusPending,
			kind:    types.PipelineSuspend,
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "destroyed cannot destroy again",
			status:  types.InstanceStatusDestroyed,
			kind:    types.PipelineDestroy,
			wantErr: ErrIllegalTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storagetest.New()
			q := New(store)
			instance := seedInstance(t, store, "acme.example.com", tt.status)

			err := q.Enqueue(context.Background(), instance.ID, tt.kind)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			got, err := store.GetInstance(context.Background(), instance.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestEnqueue_MissingInstance(t *testing.T) {
	q := New(storagetest.New())
	err := q.Enqueue(context.Background(), 42, types.PipelineProvision)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDequeue_FIFO(t *testing.T) {
	store := storagetest.New()
	q := New(store)
	ctx := context.Background()

	first := seedInstance(t, store, "first.example.com", types.InstanceStatusProvisioning)
	second := seedInstance(t, store, "second.example.com", types.InstanceStatusProvisioning)

	got, err := q.Dequeue(ctx, types.PipelineProvision)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	// The claim keeps the head hidden from a second dispatcher.
	got, err = q.Dequeue(ctx, types.PipelineProvision)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = q.Dequeue(ctx, types.PipelineProvision)
	assert.ErrorIs(t, err, ErrEmpty)

	// Releasing without a status change makes the row visible again.
	q.Release(first.ID)
	got, err = q.Dequeue(ctx, types.PipelineProvision)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestDequeue_Empty(t *testing.T) {
	q := New(storagetest.New())
	_, err := q.Dequeue(context.Background(), types.PipelineDestroy)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDequeue_KindsAreIndependent(t *testing.T) {
	store := storagetest.New()
	q := New(store)
	ctx := context.Background()

	seedInstance(t, store, "provision.example.com", types.InstanceStatusProvisioning)
	destroying := seedInstance(t, store, "destroy.example.com", types.InstanceStatusDestroying)

	got, err := q.Dequeue(ctx, types.PipelineDestroy)
	require.NoError(t, err)
	assert.Equal(t, destroying.ID, got.ID)
}

func TestTryClaim(t *testing.T) {
	q := New(storagetest.New())

	assert.True(t, q.TryClaim(100, types.PipelineProvision))
	assert.False(t, q.TryClaim(100, types.PipelineDestroy))
	assert.True(t, q.Claimed(100))

	q.Release(100)
	assert.False(t, q.Claimed(100))
	assert.True(t, q.TryClaim(100, types.PipelineDestroy))
}

func TestStats(t *testing.T) {
	store := storagetest.New()
	q := New(store)
	ctx := context.Background()

	head := seedInstance(t, store, "head.example.com", types.InstanceStatusProvisioning)
	seedInstance(t, store, "tail.example.com", types.InstanceStatusProvisioning)
	seedInstance(t, store, "gone.example.com", types.InstanceStatusDestroying)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 4)

	byKind := make(map[types.PipelineKind]KindStats)
	for _, s := range stats {
		byKind[s.Kind] = s
	}

	assert.Equal(t, 2, byKind[types.PipelineProvision].Depth)
	require.NotNil(t, byKind[types.PipelineProvision].Head)
	assert.Equal(t, head.ID, byKind[types.PipelineProvision].Head.ID)

	assert.Equal(t, 1, byKind[types.PipelineDestroy].Depth)
	assert.Equal(t, 0, byKind[types.PipelineSuspend].Depth)
	assert.Nil(t, byKind[types.PipelineSuspend].Head)
}
