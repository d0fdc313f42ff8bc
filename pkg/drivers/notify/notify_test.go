package notify

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedNotice struct {
	host   string
	path   string
	reason string
}

// testNotifier routes every dial to the test server, so the internal
// hostname derivation is exercised without real DNS.
func testNotifier(t *testing.T, handler http.Handler) (*Notifier, *[]capturedNotice) {
	t.Helper()

	var mu sync.Mutex
	var notices []capturedNotice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		mu.Lock()
		notices = append(notices, capturedNotice{host: r.Host, path: r.URL.Path, reason: body.Reason})
		mu.Unlock()
		if handler != nil {
			handler.ServeHTTP(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	n := New(80)
	n.client = &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "tcp", srv.Listener.Addr().String())
			},
		},
	}
	return n, &notices
}

func TestNotifyPostsToInternalHostname(t *testing.T) {
	n, notices := testNotifier(t, nil)

	err := n.NotifyShuttingDown(context.Background(), "acme.xcord.io", "instance destruction requested")

	require.NoError(t, err)
	require.Len(t, *notices, 1)
	got := (*notices)[0]
	assert.Contains(t, got.host, "xcord-acme")
	assert.Equal(t, "/api/v1/admin/shutdown-notice", got.path)
	assert.Equal(t, "instance destruction requested", got.reason)
}

func TestNotifySurfacesRejection(t *testing.T) {
	n, _ := testNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := n.NotifyShuttingDown(context.Background(), "acme.xcord.io", "suspending")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNotifyHonorsContext(t *testing.T) {
	n, _ := testNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.NotifyShuttingDown(ctx, "acme.xcord.io", "suspending")

	require.Error(t, err)
}
