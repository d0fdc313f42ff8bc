package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes a dependency's health endpoint, used for the proxy
// admin API and the object store's liveness route.
type HTTPChecker struct {
	name string
	url  string

	// Acceptable status window, inclusive. Defaults to 200-399: admin
	// APIs answer 200, some liveness routes redirect.
	statusMin int
	statusMax int

	client *http.Client
}

// NewHTTP builds a checker that GETs url.
func NewHTTP(name, url string) *HTTPChecker {
	return &HTTPChecker{
		name:      name,
		url:       url,
		statusMin: http.StatusOK,
		statusMax: 399,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

// WithStatusRange narrows or widens the acceptable status window.
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.statusMin = min
	h.statusMax = max
	return h
}

// WithTimeout overrides the request timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.client.Timeout = timeout
	return h
}

func (h *HTTPChecker) Name() string { return h.name }

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return result(start, false, fmt.Sprintf("building request: %v", err))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return result(start, false, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < h.statusMin || resp.StatusCode > h.statusMax {
		return result(start, false, fmt.Sprintf("HTTP %d (want %d-%d)",
			resp.StatusCode, h.statusMin, h.statusMax))
	}
	return result(start, true, fmt.Sprintf("HTTP %d", resp.StatusCode))
}
