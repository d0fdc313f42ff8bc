// Package notify delivers courtesy shutdown notices to instances.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xcord/hub/pkg/drivers"
)

// Notifier delivers shutdown notices straight to an instance's internal
// API over the shared network. It is the only driver that talks to the
// workload itself, and only to say goodbye; the pipeline treats every
// failure here as ignorable.
type Notifier struct {
	client *http.Client
	port   int
}

var _ drivers.InstanceNotifier = (*Notifier)(nil)

// New builds a notifier targeting the given internal application port.
func New(port int) *Notifier {
	if port <= 0 {
		port = 80
	}
	return &Notifier{
		// Callers bound each notice with their own deadline; this is a
		// backstop for callers that forget.
		client: &http.Client{Timeout: 4 * time.Second},
		port:   port,
	}
}

// NotifyShuttingDown posts the notice to the instance's admin endpoint.
func (n *Notifier) NotifyShuttingDown(ctx context.Context, domain, reason string) error {
	payload, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("encoding shutdown notice: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/api/v1/admin/shutdown-notice", internalHost(domain), n.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building shutdown notice: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering shutdown notice to %s: %w", domain, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("shutdown notice to %s returned %d", domain, resp.StatusCode)
	}
	return nil
}

// internalHost mirrors the engine-side container name, which resolves
// on the shared network.
func internalHost(domain string) string {
	return "xcord-" + strings.SplitN(domain, ".", 2)[0]
}
