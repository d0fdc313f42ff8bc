package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcord/hub/pkg/events"
	"github.com/xcord/hub/pkg/federation"
	"github.com/xcord/hub/pkg/health"
	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage/storagetest"
	"github.com/xcord/hub/pkg/types"
)

type stubChecker struct {
	name    string
	healthy bool
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(context.Context) health.Result {
	return health.Result{Healthy: s.healthy, Message: "stub", CheckedAt: time.Now()}
}

type harness struct {
	store  *storagetest.Store
	queue  *queue.Queue
	broker *events.Broker
	rec    *events.Recorder
	server *Server
}

func newHarness(t *testing.T, checkers ...health.Checker) *harness {
	t.Helper()

	store := storagetest.New()
	broker := events.NewBroker()
	rec := events.NewRecorder(broker, 16)

	h := &harness{
		store:  store,
		queue:  queue.New(store),
		broker: broker,
		rec:    rec,
	}
	h.server = New("127.0.0.1:0", Deps{
		Store:      store,
		Queue:      h.queue,
		Broker:     broker,
		Recorder:   rec,
		Readiness:  health.NewRegistry(checkers...),
		Federation: federation.NewService(store),
		Version:    "test",
	})
	return h
}

func (h *harness) get(t *testing.T, path string) (*httptest.ResponseRecorder, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	return rr, rr.Body.Bytes()
}

func (h *harness) post(t *testing.T, path string, body interface{}) (*httptest.ResponseRecorder, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	return rr, rr.Body.Bytes()
}

func seedInstance(t *testing.T, h *harness, domain string, status types.InstanceStatus) *types.ManagedInstance {
	t.Helper()
	inst := &types.ManagedInstance{
		OwnerID:     7,
		Domain:      domain,
		DisplayName: "Acme Corp",
		Status:      status,
	}
	require.NoError(t, h.store.CreateInstance(context.Background(), inst))
	return inst
}

func TestHealthzAlive(t *testing.T) {
	h := newHarness(t)

	rr, body := h.get(t, "/healthz")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestReadyzReportsPerCheck(t *testing.T) {
	h := newHarness(t,
		&stubChecker{name: "database", healthy: true},
		&stubChecker{name: "proxy", healthy: false},
	)

	rr, body := h.get(t, "/readyz")

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.Contains(t, resp.Message, "proxy")
	assert.True(t, resp.Checks["database"].Healthy)
	assert.False(t, resp.Checks["proxy"].Healthy)
}

func TestReadyzAllHealthy(t *testing.T) {
	h := newHarness(t, &stubChecker{name: "database", healthy: true})

	rr, body := h.get(t, "/readyz")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body), `"ready"`)
}

func TestMetricsExposed(t *testing.T) {
	h := newHarness(t)

	rr, body := h.get(t, "/metrics")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body), "hub_")
}

func TestListInstancesWithStatusFilter(t *testing.T) {
	h := newHarness(t)
	seedInstance(t, h, "acme.xcord.io", types.InstanceStatusRunning)
	seedInstance(t, h, "globex.xcord.io", types.InstanceStatusPending)

	rr, body := h.get(t, "/api/v1/instances")
	require.Equal(t, http.StatusOK, rr.Code)
	var list instanceListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Count)

	rr, body = h.get(t, "/api/v1/instances?status=running")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "acme.xcord.io", list.Instances[0].Domain)

	rr, _ = h.get(t, "/api/v1/instances?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetInstanceDetail(t *testing.T) {
	h := newHarness(t)
	inst := seedInstance(t, h, "acme.xcord.io", types.InstanceStatusRunning)
	require.NoError(t, h.store.CreateBilling(context.Background(), &types.InstanceBilling{
		InstanceID:    inst.ID,
		FeatureTier:   types.FeatureTierVideo,
		UserCountTier: 100,
		Status:        types.BillingStatusActive,
	}))

	rr, body := h.get(t, fmt.Sprintf("/api/v1/instances/%d", inst.ID))

	require.Equal(t, http.StatusOK, rr.Code)
	var detail instanceDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, "acme.xcord.io", detail.Instance.Domain)
	require.NotNil(t, detail.Billing)
	assert.Equal(t, types.FeatureTierVideo, detail.Billing.FeatureTier)
	assert.False(t, detail.Claimed)

	require.True(t, h.queue.TryClaim(inst.ID, types.PipelineProvision))
	defer h.queue.Release(inst.ID)

	rr, body = h.get(t, fmt.Sprintf("/api/v1/instances/%d", inst.ID))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.True(t, detail.Claimed)
}

func TestGetInstanceErrors(t *testing.T) {
	h := newHarness(t)

	rr, _ := h.get(t, "/api/v1/instances/999")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = h.get(t, "/api/v1/instances/acme")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInstanceEventLog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst := seedInstance(t, h, "acme.xcord.io", types.InstanceStatusProvisioning)

	ev := &types.ProvisioningEvent{
		InstanceID: inst.ID,
		Pipeline:   types.PipelineProvision,
		StepName:   "ValidateSubdomain",
		Phase:      types.PhaseExecute,
		Status:     types.EventInProgress,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, h.store.InsertEvent(ctx, ev))
	require.NoError(t, h.store.CompleteEvent(ctx, ev.ID, types.EventCompleted, nil))

	rr, body := h.get(t, fmt.Sprintf("/api/v1/instances/%d/events", inst.ID))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Pipeline types.PipelineKind         `json:"pipeline"`
		Events   []*types.ProvisioningEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, types.PipelineProvision, resp.Pipeline)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "ValidateSubdomain", resp.Events[0].StepName)

	rr, _ = h.get(t, fmt.Sprintf("/api/v1/instances/%d/events?pipeline=bogus", inst.ID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = h.get(t, "/api/v1/instances/12345/events")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	inst := seedInstance(t, h, "acme.xcord.io", types.InstanceStatusPending)
	require.NoError(t, h.queue.Enqueue(ctx, inst.ID, types.PipelineProvision))

	rr, body := h.get(t, "/api/v1/queue")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Queues []queue.KindStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))

	depths := make(map[types.PipelineKind]int)
	for _, ks := range resp.Queues {
		depths[ks.Kind] = ks.Depth
	}
	assert.Equal(t, 1, depths[types.PipelineProvision])
	assert.Equal(t, 0, depths[types.PipelineDestroy])
}

func TestRecentEvents(t *testing.T) {
	h := newHarness(t)
	h.broker.Start()
	h.rec.Start()
	defer h.rec.Stop()
	defer h.broker.Stop()

	h.broker.Publish(events.NewInstanceEvent(events.EventInstanceRunning, 42, "acme.xcord.io is running"))

	require.Eventually(t, func() bool {
		_, body := h.get(t, "/api/v1/events")
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return false
		}
		return resp.Count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func seedExchangeable(t *testing.T, h *harness, domain string) (inst *types.ManagedInstance, bootstrap string) {
	t.Helper()
	ctx := context.Background()

	inst = seedInstance(t, h, domain, types.InstanceStatusRunning)

	var err error
	bootstrap, err = security.GenerateBootstrapToken()
	require.NoError(t, err)
	hash := security.HashToken(bootstrap)
	require.NoError(t, h.store.CreateInfrastructure(ctx, &types.InstanceInfrastructure{
		InstanceID:         inst.ID,
		DBName:             "xcord_acme",
		BootstrapTokenHash: &hash,
	}))
	return inst, bootstrap
}

func TestFederationExchangeRoundTrip(t *testing.T) {
	h := newHarness(t)
	inst, bootstrap := seedExchangeable(t, h, "acme.xcord.io")

	rr, body := h.post(t, "/api/v1/federation/exchange", exchangeRequest{
		Domain:         "acme.xcord.io",
		BootstrapToken: bootstrap,
	})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp exchangeResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.Token)
	assert.NotEqual(t, bootstrap, resp.Token)

	rr, body = h.post(t, "/api/v1/federation/validate", validateRequest{Token: resp.Token})
	require.Equal(t, http.StatusOK, rr.Code)
	var vresp validateResponse
	require.NoError(t, json.Unmarshal(body, &vresp))
	assert.Equal(t, inst.ID, vresp.InstanceID)
	assert.Equal(t, "acme.xcord.io", vresp.Domain)

	// The bootstrap token is single-use.
	rr, body = h.post(t, "/api/v1/federation/exchange", exchangeRequest{
		Domain:         "acme.xcord.io",
		BootstrapToken: bootstrap,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, string(body), "exchange denied")
}

func TestFederationExchangeAnnouncesMint(t *testing.T) {
	h := newHarness(t)
	h.broker.Start()
	h.rec.Start()
	defer h.rec.Stop()
	defer h.broker.Stop()

	inst, bootstrap := seedExchangeable(t, h, "acme.xcord.io")

	rr, body := h.post(t, "/api/v1/federation/exchange", exchangeRequest{
		Domain:         "acme.xcord.io",
		BootstrapToken: bootstrap,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp exchangeResponse
	require.NoError(t, json.Unmarshal(body, &resp))

	var got *events.Event
	require.Eventually(t, func() bool {
		for _, e := range h.rec.Recent() {
			if e.Type == events.EventTokenIssued {
				got = e
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, inst.ID, got.InstanceID)
	assert.Contains(t, got.Message, "acme.xcord.io")
	// The stream names the domain, never the minted token.
	assert.NotContains(t, got.Message, resp.Token)
	assert.NotContains(t, got.Message, bootstrap)
}

func TestFederationExchangeRejections(t *testing.T) {
	h := newHarness(t)
	seedExchangeable(t, h, "acme.xcord.io")

	rr, body := h.post(t, "/api/v1/federation/exchange", exchangeRequest{
		Domain:         "acme.xcord.io",
		BootstrapToken: "wrong-token",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotContains(t, string(body), "wrong-token")

	rr, _ = h.post(t, "/api/v1/federation/exchange", exchangeRequest{Domain: "acme.xcord.io"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/federation/exchange", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFederationRevokeEndsTokenLife(t *testing.T) {
	h := newHarness(t)
	_, bootstrap := seedExchangeable(t, h, "acme.xcord.io")

	rr, body := h.post(t, "/api/v1/federation/exchange", exchangeRequest{
		Domain:         "acme.xcord.io",
		BootstrapToken: bootstrap,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp exchangeResponse
	require.NoError(t, json.Unmarshal(body, &resp))

	rr, body = h.post(t, "/api/v1/federation/revoke", validateRequest{Token: resp.Token})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(body), `"revoked":true`)

	rr, _ = h.post(t, "/api/v1/federation/validate", validateRequest{Token: resp.Token})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Revoking twice is indistinguishable from revoking garbage.
	rr, _ = h.post(t, "/api/v1/federation/revoke", validateRequest{Token: resp.Token})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestFederationValidateRejectsUnknownToken(t *testing.T) {
	h := newHarness(t)

	rr, body := h.post(t, "/api/v1/federation/validate", validateRequest{Token: "feder-nonsense"})

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, string(body), "invalid token")
}

func TestEventStreamDeliversSSE(t *testing.T) {
	h := newHarness(t)
	h.broker.Start()
	defer h.broker.Stop()

	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, ": connected"))

	// Give the subscriber a beat, then publish through the broker.
	time.Sleep(50 * time.Millisecond)
	h.broker.Publish(events.NewInstanceEvent(events.EventInstanceRunning, 42, "acme.xcord.io is running"))

	var eventLine, dataLine string
	for {
		l, err := reader.ReadString('\n')
		require.NoError(t, err, "stream closed before event arrived")
		if strings.HasPrefix(l, "event: ") {
			eventLine = strings.TrimSpace(l)
			dl, err := reader.ReadString('\n')
			require.NoError(t, err)
			dataLine = strings.TrimSpace(dl)
			break
		}
	}

	assert.Equal(t, "event: instance.running", eventLine)
	var e events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &e))
	assert.Equal(t, int64(42), e.InstanceID)
	assert.Equal(t, "acme.xcord.io is running", e.Message)
}
