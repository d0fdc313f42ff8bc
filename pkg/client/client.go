package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xcord/hub/pkg/events"
	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/types"
)

const (
	defaultTimeout = 10 * time.Second

	// maxBodyBytes caps response reads. The largest legitimate body is
	// an instance listing; anything bigger is a misdirected URL.
	maxBodyBytes = 1 << 20
)

// APIError is a non-2xx hub response. Message carries the server's
// error body, which never contains secrets.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub answered %d: %s", e.StatusCode, e.Message)
}

// Denied reports whether err is the hub's uniform 401. An instance
// seeing Denied on exchange needs a restart for a fresh bootstrap
// token; retrying the same one cannot succeed.
func Denied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Client talks to the hub's HTTP API: the federation call-home routes
// an instance container uses, and the read-only ops surface.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for the hub at baseURL, e.g. "https://hub.xcord.io".
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing hub URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("hub URL %q needs a scheme and host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	return &Client{
		base: u.String(),
		http: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Exchange trades the instance's one-time bootstrap token for its
// long-lived federation token. The hub answers the same 401 for every
// kind of refusal; callers learn nothing beyond denied or not.
func (c *Client) Exchange(ctx context.Context, domain, bootstrapToken string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/api/v1/federation/exchange", map[string]string{
		"domain":          domain,
		"bootstrap_token": bootstrapToken,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Identity names the instance behind a federation token.
type Identity struct {
	InstanceID int64  `json:"instance_id"`
	Domain     string `json:"domain"`
}

// Validate resolves a federation token to its instance. Sibling
// services use it to authenticate instance-to-instance calls.
func (c *Client) Validate(ctx context.Context, token string) (*Identity, error) {
	var id Identity
	if err := c.post(ctx, "/api/v1/federation/validate", map[string]string{"token": token}, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Revoke invalidates a federation token, presenting the token itself
// as proof of possession.
func (c *Client) Revoke(ctx context.Context, token string) error {
	return c.post(ctx, "/api/v1/federation/revoke", map[string]string{"token": token}, nil)
}

// Instances lists managed instances, optionally filtered by status.
// An empty status lists everything.
func (c *Client) Instances(ctx context.Context, status types.InstanceStatus) ([]*types.ManagedInstance, error) {
	path := "/api/v1/instances"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp struct {
		Instances []*types.ManagedInstance `json:"instances"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// InstanceDetail mirrors the detail endpoint: the instance, its billing
// row when one exists, and whether a worker currently holds it.
type InstanceDetail struct {
	Instance *types.ManagedInstance `json:"instance"`
	Billing  *types.InstanceBilling `json:"billing,omitempty"`
	Claimed  bool                   `json:"claimed"`
}

// Instance fetches one instance with its read-side context.
func (c *Client) Instance(ctx context.Context, id int64) (*InstanceDetail, error) {
	var detail InstanceDetail
	if err := c.get(ctx, "/api/v1/instances/"+strconv.FormatInt(id, 10), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// InstanceEvents fetches the step event log for one pipeline. An empty
// kind means the provisioning pipeline.
func (c *Client) InstanceEvents(ctx context.Context, id int64, kind types.PipelineKind) ([]*types.ProvisioningEvent, error) {
	path := fmt.Sprintf("/api/v1/instances/%d/events", id)
	if kind != "" {
		path += "?pipeline=" + url.QueryEscape(string(kind))
	}
	var resp struct {
		Events []*types.ProvisioningEvent `json:"events"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// QueueStats reads per-pipeline queue depth and head age.
func (c *Client) QueueStats(ctx context.Context) ([]queue.KindStats, error) {
	var resp struct {
		Queues []queue.KindStats `json:"queues"`
	}
	if err := c.get(ctx, "/api/v1/queue", &resp); err != nil {
		return nil, err
	}
	return resp.Queues, nil
}

// RecentEvents reads the hub's recent lifecycle event ring, newest
// first.
func (c *Client) RecentEvents(ctx context.Context) ([]*events.Event, error) {
	var resp struct {
		Events []*events.Event `json:"events"`
	}
	if err := c.get(ctx, "/api/v1/events", &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Health is the hub's liveness body.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health reports hub liveness and build version.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/healthz", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling hub: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading hub response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding hub response: %w", err)
	}
	return nil
}
