package minio

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConsole implements the slice of the console admin API the driver
// consumes: cookie login, policy and user CRUD.
type fakeConsole struct {
	mu       sync.Mutex
	rejected bool

	policies map[string]string
	users    map[string][]string // accessKey → policies
	calls    []string
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		policies: make(map[string]string),
		users:    make(map[string][]string),
	}
}

func (f *fakeConsole) callsFor(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeConsole) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)

		if r.URL.Path == "/api/v1/login" {
			if f.rejected {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"message":"invalid credentials"}`)
				return
			}
			var creds map[string]string
			json.NewDecoder(r.Body).Decode(&creds) //nolint:errcheck
			if creds["accessKey"] != "root" || creds["secretKey"] != "root-secret" {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"message":"invalid credentials"}`)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "token", Value: "session-1", Path: "/"})
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Everything past login needs the session cookie.
		if _, err := r.Cookie("token"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"no session"}`)
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/policies":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
			f.policies[body["name"]] = body["policy"]
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/users":
			var body struct {
				AccessKey string   `json:"accessKey"`
				SecretKey string   `json:"secretKey"`
				Policies  []string `json:"policies"`
			}
			json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
			f.users[body.AccessKey] = body.Policies
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/v1/user/"):
			name := strings.TrimPrefix(r.URL.Path, "/api/v1/user/")
			if _, ok := f.users[name]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.users, name)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/v1/policy/"):
			name := strings.TrimPrefix(r.URL.Path, "/api/v1/policy/")
			if _, ok := f.policies[name]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.policies, name)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// fakeStore implements the path-style S3 calls the driver issues.
type fakeStore struct {
	mu      sync.Mutex
	buckets map[string][]string // bucket → object keys
	denyKey string              // access key that gets 403s
	deletes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: make(map[string][]string)}
}

type listEntry struct {
	Key string `xml:"Key"`
}

type listResult struct {
	XMLName     xml.Name    `xml:"ListBucketResult"`
	Name        string      `xml:"Name"`
	IsTruncated bool        `xml:"IsTruncated"`
	Contents    []listEntry `xml:"Contents"`
}

func (f *fakeStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.denyKey != "" && strings.Contains(r.Header.Get("Authorization"), "Credential="+f.denyKey+"/") {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `<?xml version="1.0"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}

		bucket := strings.Trim(strings.SplitN(r.URL.Path, "/", 3)[1], "/")
		switch {
		case r.Method == http.MethodGet && bucket == "":
			io.WriteString(w, `<?xml version="1.0"?><ListAllMyBucketsResult><Buckets></Buckets></ListAllMyBucketsResult>`)
		case r.Method == http.MethodPut:
			if _, ok := f.buckets[bucket]; ok {
				w.WriteHeader(http.StatusConflict)
				io.WriteString(w, `<?xml version="1.0"?><Error><Code>BucketAlreadyOwnedByYou</Code><Message>exists</Message></Error>`)
				return
			}
			f.buckets[bucket] = nil
		case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
			keys, ok := f.buckets[bucket]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `<?xml version="1.0"?><Error><Code>NoSuchBucket</Code><Message>gone</Message></Error>`)
				return
			}
			entries := make([]listEntry, 0, len(keys))
			for _, k := range keys {
				entries = append(entries, listEntry{Key: k})
			}
			out, _ := xml.Marshal(listResult{Name: bucket, Contents: entries})
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>%s`, out)
		case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
			f.deletes = append(f.deletes, bucket)
			f.buckets[bucket] = nil
			w.Header().Set("Content-Type", "application/xml")
			io.WriteString(w, `<?xml version="1.0"?><DeleteResult></DeleteResult>`)
		case r.Method == http.MethodDelete:
			if _, ok := f.buckets[bucket]; !ok {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `<?xml version="1.0"?><Error><Code>NoSuchBucket</Code><Message>gone</Message></Error>`)
				return
			}
			delete(f.buckets, bucket)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	})
}

func (f *fakeStore) hasBucket(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[name]
	return ok
}

func (f *fakeStore) putObjects(bucket string, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = append(f.buckets[bucket], keys...)
}

func newTestManager(t *testing.T, console *fakeConsole, store *fakeStore) *Manager {
	t.Helper()
	adminSrv := httptest.NewServer(console.handler())
	t.Cleanup(adminSrv.Close)
	storeSrv := httptest.NewServer(store.handler())
	t.Cleanup(storeSrv.Close)

	m, err := New(context.Background(), Options{
		Endpoint:     storeSrv.URL,
		AdminURL:     adminSrv.URL,
		RootUser:     "root",
		RootPassword: "root-secret",
	})
	require.NoError(t, err)
	return m
}

func TestProvisionBucketCreatesPrincipal(t *testing.T) {
	console := newFakeConsole()
	store := newFakeStore()
	m := newTestManager(t, console, store)

	creds, err := m.ProvisionBucket(context.Background(), "xcord-acme", "inst-key", "inst-secret")

	require.NoError(t, err)
	assert.Equal(t, "inst-key", creds.AccessKey)
	assert.Equal(t, "inst-secret", creds.SecretKey)
	assert.False(t, creds.RootFallback)

	assert.True(t, store.hasBucket("xcord-acme"))
	policy := console.policies["xcord-xcord-acme"]
	assert.Contains(t, policy, `"arn:aws:s3:::xcord-acme"`)
	assert.Contains(t, policy, `"arn:aws:s3:::xcord-acme/*"`)
	assert.Equal(t, []string{"xcord-xcord-acme"}, console.users["inst-key"])
}

func TestProvisionBucketIdempotent(t *testing.T) {
	console := newFakeConsole()
	store := newFakeStore()
	m := newTestManager(t, console, store)
	ctx := context.Background()

	_, err := m.ProvisionBucket(ctx, "xcord-acme", "inst-key", "inst-secret")
	require.NoError(t, err)

	// Replay: bucket exists (already-owned tolerated), principal is
	// refreshed via delete-then-create. Both runs attempt the stale
	// delete; only the second one finds a user to remove.
	creds, err := m.ProvisionBucket(ctx, "xcord-acme", "inst-key", "rotated-secret")
	require.NoError(t, err)
	assert.False(t, creds.RootFallback)
	assert.Len(t, console.callsFor("DELETE /api/v1/user/inst-key"), 2)
	assert.Len(t, console.callsFor("POST /api/v1/users"), 2)
}

func TestProvisionBucketRootFallback(t *testing.T) {
	console := newFakeConsole()
	console.rejected = true
	store := newFakeStore()
	m := newTestManager(t, console, store)

	creds, err := m.ProvisionBucket(context.Background(), "xcord-acme", "inst-key", "inst-secret")

	require.NoError(t, err)
	assert.True(t, creds.RootFallback)
	assert.Equal(t, "root", creds.AccessKey)
	assert.Equal(t, "root-secret", creds.SecretKey)
	// The bucket itself still exists; only the principal degraded.
	assert.True(t, store.hasBucket("xcord-acme"))
}

func TestVerifyBucket(t *testing.T) {
	console := newFakeConsole()
	store := newFakeStore()
	m := newTestManager(t, console, store)
	ctx := context.Background()

	_, err := m.ProvisionBucket(ctx, "xcord-acme", "inst-key", "inst-secret")
	require.NoError(t, err)

	ok, err := m.VerifyBucket(ctx, "xcord-acme", "inst-key", "inst-secret")
	require.NoError(t, err)
	assert.True(t, ok)

	// A denied principal is a definitive no, not an error.
	store.denyKey = "inst-key"
	ok, err = m.VerifyBucket(ctx, "xcord-acme", "inst-key", "inst-secret")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeprovisionBucketDrainsAndDeletes(t *testing.T) {
	console := newFakeConsole()
	store := newFakeStore()
	m := newTestManager(t, console, store)
	ctx := context.Background()

	_, err := m.ProvisionBucket(ctx, "xcord-acme", "inst-key", "inst-secret")
	require.NoError(t, err)
	store.putObjects("xcord-acme", "media/a.png", "media/b.png")

	require.NoError(t, m.DeprovisionBucket(ctx, "xcord-acme", "inst-key"))

	assert.False(t, store.hasBucket("xcord-acme"))
	assert.Equal(t, []string{"xcord-acme"}, store.deletes)
	assert.NotContains(t, console.users, "inst-key")
	assert.NotContains(t, console.policies, "xcord-xcord-acme")
}

func TestDeprovisionBucketToleratesMissing(t *testing.T) {
	console := newFakeConsole()
	store := newFakeStore()
	m := newTestManager(t, console, store)

	require.NoError(t, m.DeprovisionBucket(context.Background(), "never-created", "inst-key"))
}

func TestDeprovisionNeverDeletesRootUser(t *testing.T) {
	console := newFakeConsole()
	store := newFakeStore()
	m := newTestManager(t, console, store)
	ctx := context.Background()

	// A fallback provision records root as the instance's access key.
	console.rejected = true
	_, err := m.ProvisionBucket(ctx, "xcord-acme", "inst-key", "inst-secret")
	require.NoError(t, err)
	console.rejected = false

	require.NoError(t, m.DeprovisionBucket(ctx, "xcord-acme", "root"))
	assert.Empty(t, console.callsFor("DELETE /api/v1/user/root"))
}

func TestPingListsBuckets(t *testing.T) {
	console := newFakeConsole()
	store := newFakeStore()
	m := newTestManager(t, console, store)

	assert.NoError(t, m.Ping(context.Background()))
}
