package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcord/hub/pkg/storage/storagetest"
	"github.com/xcord/hub/pkg/types"
)

func TestCollectorRefreshesGauges(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	workerID := int64(11)
	seed := []*types.ManagedInstance{
		{OwnerID: 1, Domain: "a.example.com", Status: types.InstanceStatusRunning, WorkerID: &workerID},
		{OwnerID: 1, Domain: "b.example.com", Status: types.InstanceStatusRunning},
		{OwnerID: 2, Domain: "c.example.com", Status: types.InstanceStatusProvisioning},
		{OwnerID: 2, Domain: "d.example.com", Status: types.InstanceStatusDestroying},
	}
	for _, instance := range seed {
		require.NoError(t, store.CreateInstance(ctx, instance))
	}

	c := NewCollector(store)
	c.Collect(ctx)

	assert.Equal(t, float64(2), testutil.ToFloat64(InstancesTotal.WithLabelValues("running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(InstancesTotal.WithLabelValues("provisioning")))
	assert.Equal(t, float64(0), testutil.ToFloat64(InstancesTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(WorkerIDsInUse))
	assert.Equal(t, float64(1), testutil.ToFloat64(QueueDepth.WithLabelValues("provision")))
	assert.Equal(t, float64(1), testutil.ToFloat64(QueueDepth.WithLabelValues("destroy")))
	assert.Equal(t, float64(0), testutil.ToFloat64(QueueDepth.WithLabelValues("suspend")))

	// A second cycle after state changes resets emptied series.
	require.NoError(t, store.UpdateInstanceStatus(ctx, seed[2].ID, types.InstanceStatusRunning))
	c.Collect(ctx)

	assert.Equal(t, float64(3), testutil.ToFloat64(InstancesTotal.WithLabelValues("running")))
	assert.Equal(t, float64(0), testutil.ToFloat64(QueueDepth.WithLabelValues("provision")))
}
