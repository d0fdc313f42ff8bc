package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// adminClient talks to the console admin API. Sessions are
// cookie-based: login first, then carry the jar through the calls that
// follow.
type adminClient struct {
	base     string
	user     string
	password string
	timeout  time.Duration
}

func newAdminClient(adminURL, user, password string) *adminClient {
	return &adminClient{
		base:     strings.TrimRight(adminURL, "/"),
		user:     user,
		password: password,
		timeout:  15 * time.Second,
	}
}

// adminSession is one logged-in console session.
type adminSession struct {
	client *http.Client
	base   string
}

// login authenticates and returns a session holding the cookie.
func (a *adminClient) login(ctx context.Context) (*adminSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("building admin cookie jar: %w", err)
	}
	session := &adminSession{
		client: &http.Client{Jar: jar, Timeout: a.timeout},
		base:   a.base,
	}

	status, body, err := session.do(ctx, http.MethodPost, "/api/v1/login", map[string]string{
		"accessKey": a.user,
		"secretKey": a.password,
	})
	if err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("admin login: %s", consoleError(status, body))
	}
	return session, nil
}

// putPolicy creates or overwrites a named policy.
func (s *adminSession) putPolicy(ctx context.Context, name, policy string) error {
	status, body, err := s.do(ctx, http.MethodPost, "/api/v1/policies", map[string]string{
		"name":   name,
		"policy": policy,
	})
	if err != nil {
		return fmt.Errorf("creating policy %s: %w", name, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("creating policy %s: %s", name, consoleError(status, body))
	}
	return nil
}

// createUser creates the principal with the policy attached.
func (s *adminSession) createUser(ctx context.Context, accessKey, secretKey, policy string) error {
	status, body, err := s.do(ctx, http.MethodPost, "/api/v1/users", map[string]interface{}{
		"accessKey": accessKey,
		"secretKey": secretKey,
		"groups":    []string{},
		"policies":  []string{policy},
	})
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("creating user: %s", consoleError(status, body))
	}
	return nil
}

// deleteUser removes the principal; already absent is success.
func (s *adminSession) deleteUser(ctx context.Context, accessKey string) error {
	status, body, err := s.do(ctx, http.MethodDelete, "/api/v1/user/"+url.PathEscape(accessKey), nil)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if status == http.StatusNotFound || (status >= 200 && status < 300) {
		return nil
	}
	return fmt.Errorf("deleting user: %s", consoleError(status, body))
}

// deletePolicy removes the named policy; already absent is success.
func (s *adminSession) deletePolicy(ctx context.Context, name string) error {
	status, body, err := s.do(ctx, http.MethodDelete, "/api/v1/policy/"+url.PathEscape(name), nil)
	if err != nil {
		return fmt.Errorf("deleting policy %s: %w", name, err)
	}
	if status == http.StatusNotFound || (status >= 200 && status < 300) {
		return nil
	}
	return fmt.Errorf("deleting policy %s: %s", name, consoleError(status, body))
}

// do issues one console request with a JSON body and returns status and
// capped body.
func (s *adminSession) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding admin request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building admin request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading admin response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// consoleError renders the console's JSON error envelope without
// echoing anything that could carry credentials.
func consoleError(status int, body []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return fmt.Sprintf("status %d: %s", status, envelope.Message)
	}
	return fmt.Sprintf("status %d", status)
}
