// Package caddy implements the reverse proxy driver over the proxy's
// admin API. Each instance owns one route object, addressed by a
// stable @id, matching its public host and dialing its container
// upstream.
package caddy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docker/go-connections/sockets"

	"github.com/xcord/hub/pkg/drivers"
)

const defaultServer = "srv0"

// Manager drives the edge proxy's admin API. Routes are addressed by a
// stable @id derived from the instance domain, so every pipeline replay
// and heal converges on the same object.
type Manager struct {
	client *http.Client
	base   string
	server string
}

var _ drivers.ReverseProxyManager = (*Manager)(nil)

// New connects to the admin API. adminURL may be http(s)://host:port or
// unix:///path/to/admin.sock; server names the HTTP server block routes
// are appended to (empty means the default).
func New(adminURL, server string) (*Manager, error) {
	if server == "" {
		server = defaultServer
	}
	m := &Manager{
		client: &http.Client{Timeout: 10 * time.Second},
		server: server,
	}

	u, err := url.Parse(adminURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy admin URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		m.base = strings.TrimRight(adminURL, "/")
	case "unix":
		transport := &http.Transport{}
		if err := sockets.ConfigureTransport(transport, "unix", u.Path); err != nil {
			return nil, fmt.Errorf("configuring admin socket transport: %w", err)
		}
		m.client.Transport = transport
		// The socket carries the connection; the host is a placeholder.
		m.base = "http://proxy-admin"
	default:
		return nil, fmt.Errorf("unsupported proxy admin scheme %q", u.Scheme)
	}
	return m, nil
}

// Ping checks the admin API, for readiness probes.
func (m *Manager) Ping(ctx context.Context) error {
	status, _, err := m.do(ctx, http.MethodGet, "/config/", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("proxy admin returned %d", status)
	}
	return nil
}

// route is the proxy's route object: match the instance's public host,
// reverse-proxy to its container upstream.
type route struct {
	ID     string    `json:"@id"`
	Match  []match   `json:"match"`
	Handle []handler `json:"handle"`
}

type match struct {
	Host []string `json:"host"`
}

type handler struct {
	Handler   string     `json:"handler"`
	Upstreams []upstream `json:"upstreams,omitempty"`
}

type upstream struct {
	Dial string `json:"dial"`
}

// RouteID returns the stable admin-API object ID for a domain.
func RouteID(instanceDomain string) string {
	return "xcord-route-" + instanceDomain
}

// CreateRoute installs or refreshes the host-header route. An existing
// route is replaced in place (no routing gap); otherwise the route is
// appended to the server's route list.
func (m *Manager) CreateRoute(ctx context.Context, instanceDomain, upstreamHost string) (string, error) {
	id := RouteID(instanceDomain)
	body, err := json.Marshal(route{
		ID:    id,
		Match: []match{{Host: []string{instanceDomain}}},
		Handle: []handler{{
			Handler:   "reverse_proxy",
			Upstreams: []upstream{{Dial: upstreamHost}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding route for %s: %w", instanceDomain, err)
	}

	status, respBody, err := m.do(ctx, http.MethodPatch, "/id/"+id, body)
	if err != nil {
		return "", fmt.Errorf("replacing route %s: %w", id, err)
	}
	if status == http.StatusOK {
		return id, nil
	}
	if status != http.StatusNotFound {
		return "", fmt.Errorf("replacing route %s: %s", id, adminError(status, respBody))
	}

	path := fmt.Sprintf("/config/apps/http/servers/%s/routes", m.server)
	status, respBody, err = m.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", fmt.Errorf("installing route %s: %w", id, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("installing route %s: %s", id, adminError(status, respBody))
	}
	return id, nil
}

func (m *Manager) VerifyRoute(ctx context.Context, routeID string) (bool, error) {
	status, respBody, err := m.do(ctx, http.MethodGet, "/id/"+routeID, nil)
	if err != nil {
		return false, fmt.Errorf("looking up route %s: %w", routeID, err)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("looking up route %s: %s", routeID, adminError(status, respBody))
	}
}

func (m *Manager) DeleteRoute(ctx context.Context, routeID string) error {
	status, respBody, err := m.do(ctx, http.MethodDelete, "/id/"+routeID, nil)
	if err != nil {
		return fmt.Errorf("deleting route %s: %w", routeID, err)
	}
	// 404 means the route is already gone, which is the goal state.
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("deleting route %s: %s", routeID, adminError(status, respBody))
	}
	return nil
}

// do issues one admin-API request and returns status and body. The
// admin API bodies are small; reads are capped anyway.
func (m *Manager) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building admin request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading admin response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// adminError renders the admin API's JSON error envelope, falling back
// to the raw body.
func adminError(status int, body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return fmt.Sprintf("status %d: %s", status, envelope.Error)
	}
	return fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
}
