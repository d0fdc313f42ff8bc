package drivers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Call is one recorded stub driver invocation. Target is the resource
// identity the call addressed (domain, ID, bucket name), so tests can
// filter the log per resource when asserting idempotence.
type Call struct {
	Op     string
	Target string
}

type failure struct {
	remaining int // -1 means always
	err       error
}

type stubContainer struct {
	id      string
	name    string
	running bool
}

type stubRoute struct {
	domain   string
	upstream string
}

type stubBucket struct {
	accessKey    string
	secretKey    string
	rootFallback bool
	objects      int
}

// Stub implements all five driver capabilities in memory with a call
// log and programmable failures. It stands in for the real drivers in
// pipeline tests.
type Stub struct {
	mu       sync.Mutex
	calls    []Call
	failures map[string]*failure

	networks       map[string]string // instance domain → network ID
	networkLive    map[string]bool   // network ID → exists
	secrets        map[string]string // instance domain → secret ID
	secretPayloads map[string][]byte // instance domain → payload
	containers     map[string]*stubContainer
	containerNames map[string]string // instance domain → container ID
	records        map[string]string // subdomain → IP
	routes         map[string]stubRoute
	buckets        map[string]*stubBucket
	notices        []string

	// RootFallbackMode simulates an unreachable admin control API:
	// ProvisionBucket still creates the bucket but hands back root
	// credentials.
	RootFallbackMode bool
	RootAccessKey    string
	RootSecretKey    string
}

var (
	_ ContainerEngine     = (*Stub)(nil)
	_ DNSProvider         = (*Stub)(nil)
	_ ReverseProxyManager = (*Stub)(nil)
	_ ObjectStoreManager  = (*Stub)(nil)
	_ InstanceNotifier    = (*Stub)(nil)
)

// NewStub returns an empty stub driver set.
func NewStub() *Stub {
	return &Stub{
		failures:       make(map[string]*failure),
		networks:       make(map[string]string),
		networkLive:    make(map[string]bool),
		secrets:        make(map[string]string),
		secretPayloads: make(map[string][]byte),
		containers:     make(map[string]*stubContainer),
		containerNames: make(map[string]string),
		records:        make(map[string]string),
		routes:         make(map[string]stubRoute),
		buckets:        make(map[string]*stubBucket),
		RootAccessKey:  "root",
		RootSecretKey:  "root-secret",
	}
}

// Set returns the stub wired into a driver set.
func (s *Stub) Set() Set {
	return Set{Engine: s, DNS: s, Proxy: s, Store: s, Notifier: s}
}

// FailTimes makes the named op fail with err for the next n calls.
func (s *Stub) FailTimes(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{remaining: n, err: err}
}

// FailAlways makes the named op fail with err until reset.
func (s *Stub) FailAlways(op string, err error) {
	s.FailTimes(op, -1, err)
}

// Calls returns a copy of the full call log.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor returns the recorded calls for one op.
func (s *Stub) CallsFor(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Notices returns the shutdown notices delivered so far.
func (s *Stub) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notices))
	copy(out, s.notices)
	return out
}

// record logs the call and consumes a programmed failure if one is
// armed for the op. Callers hold s.mu.
func (s *Stub) record(op, target string) error {
	s.calls = append(s.calls, Call{Op: op, Target: target})
	f, ok := s.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

// ContainerEngine

func (s *Stub) CreateNetwork(_ context.Context, instanceDomain string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateNetwork", instanceDomain); err != nil {
		return "", err
	}
	if id, ok := s.networks[instanceDomain]; ok {
		return id, nil
	}
	id := "net-" + uuid.New().String()
	s.networks[instanceDomain] = id
	s.networkLive[id] = true
	return id, nil
}

func (s *Stub) NetworkExists(_ context.Context, networkID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("NetworkExists", networkID); err != nil {
		return false, err
	}
	return s.networkLive[networkID], nil
}

func (s *Stub) CreateSecret(_ context.Context, instanceDomain string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateSecret", instanceDomain); err != nil {
		return "", err
	}
	// Replace-by-name, like the engine driver.
	id := "sec-" + uuid.New().String()
	s.secrets[instanceDomain] = id
	s.secretPayloads[instanceDomain] = append([]byte(nil), payload...)
	return id, nil
}

func (s *Stub) RemoveSecret(_ context.Context, secretID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("RemoveSecret", secretID); err != nil {
		return err
	}
	for domain, id := range s.secrets {
		if id == secretID {
			delete(s.secrets, domain)
			delete(s.secretPayloads, domain)
		}
	}
	return nil // missing secret is success
}

// SecretPayload returns the payload of the domain's current config
// secret, the document the instance container reads at boot.
func (s *Stub) SecretPayload(instanceDomain string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.secretPayloads[instanceDomain]
	return p, ok
}

func (s *Stub) StartContainer(_ context.Context, spec ContainerSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("StartContainer", spec.InstanceDomain); err != nil {
		return "", err
	}
	// A stale same-name container from an interrupted attempt is
	// replaced, like the engine driver's conflict handling.
	if oldID, ok := s.containerNames[spec.InstanceDomain]; ok {
		delete(s.containers, oldID)
	}
	id := "ctr-" + uuid.New().String()
	s.containers[id] = &stubContainer{id: id, name: spec.InstanceDomain, running: true}
	s.containerNames[spec.InstanceDomain] = id
	return id, nil
}

func (s *Stub) StartStoppedContainer(_ context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("StartStoppedContainer", containerID); err != nil {
		return err
	}
	c, ok := s.containers[containerID]
	if !ok {
		return fmt.Errorf("container %s not found", containerID)
	}
	c.running = true
	return nil
}

func (s *Stub) ContainerRunning(_ context.Context, containerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ContainerRunning", containerID); err != nil {
		return false, err
	}
	c, ok := s.containers[containerID]
	return ok && c.running, nil
}

func (s *Stub) StopContainer(_ context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("StopContainer", containerID); err != nil {
		return err
	}
	if c, ok := s.containers[containerID]; ok {
		c.running = false
	}
	return nil // missing container is success
}

func (s *Stub) RemoveContainer(_ context.Context, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("RemoveContainer", containerID); err != nil {
		return err
	}
	if c, ok := s.containers[containerID]; ok {
		delete(s.containerNames, c.name)
		delete(s.containers, containerID)
	}
	return nil // missing container is success
}

func (s *Stub) RemoveNetwork(_ context.Context, networkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("RemoveNetwork", networkID); err != nil {
		return err
	}
	if s.networkLive[networkID] {
		delete(s.networkLive, networkID)
		for domain, id := range s.networks {
			if id == networkID {
				delete(s.networks, domain)
			}
		}
	}
	return nil // missing network is success
}

// DNSProvider

func (s *Stub) CreateARecord(_ context.Context, subdomain, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateARecord", subdomain); err != nil {
		return err
	}
	s.records[subdomain] = ip
	return nil
}

func (s *Stub) VerifyARecord(_ context.Context, subdomain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("VerifyARecord", subdomain); err != nil {
		return false, err
	}
	_, ok := s.records[subdomain]
	return ok, nil
}

func (s *Stub) DeleteARecord(_ context.Context, subdomain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteARecord", subdomain); err != nil {
		return err
	}
	delete(s.records, subdomain) // missing record is success
	return nil
}

// LookupARecord returns the stubbed record for assertions.
func (s *Stub) LookupARecord(subdomain string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ip, ok := s.records[subdomain]
	return ip, ok
}

// ReverseProxyManager

func (s *Stub) CreateRoute(_ context.Context, instanceDomain, upstreamHost string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateRoute", instanceDomain); err != nil {
		return "", err
	}
	// Stable route IDs keyed by domain, like the proxy driver's @id.
	id := "route-" + instanceDomain
	s.routes[id] = stubRoute{domain: instanceDomain, upstream: upstreamHost}
	return id, nil
}

func (s *Stub) VerifyRoute(_ context.Context, routeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("VerifyRoute", routeID); err != nil {
		return false, err
	}
	_, ok := s.routes[routeID]
	return ok, nil
}

func (s *Stub) DeleteRoute(_ context.Context, routeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteRoute", routeID); err != nil {
		return err
	}
	delete(s.routes, routeID) // missing route is success
	return nil
}

// ObjectStoreManager

func (s *Stub) ProvisionBucket(_ context.Context, name, accessKey, secretKey string) (*BucketCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("ProvisionBucket", name); err != nil {
		return nil, err
	}

	if s.RootFallbackMode {
		s.buckets[name] = &stubBucket{
			accessKey:    s.RootAccessKey,
			secretKey:    s.RootSecretKey,
			rootFallback: true,
		}
		return &BucketCredentials{
			AccessKey:    s.RootAccessKey,
			SecretKey:    s.RootSecretKey,
			RootFallback: true,
		}, nil
	}

	if b, ok := s.buckets[name]; ok {
		// Idempotent re-provision refreshes the principal.
		b.accessKey, b.secretKey, b.rootFallback = accessKey, secretKey, false
	} else {
		s.buckets[name] = &stubBucket{accessKey: accessKey, secretKey: secretKey}
	}
	return &BucketCredentials{AccessKey: accessKey, SecretKey: secretKey}, nil
}

func (s *Stub) DeprovisionBucket(_ context.Context, name, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeprovisionBucket", name); err != nil {
		return err
	}
	delete(s.buckets, name) // missing bucket is success
	return nil
}

func (s *Stub) VerifyBucket(_ context.Context, name, accessKey, secretKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("VerifyBucket", name); err != nil {
		return false, err
	}
	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	return b.accessKey == accessKey && b.secretKey == secretKey, nil
}

// BucketObjects sets the object count for drain assertions.
func (s *Stub) BucketObjects(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[name]; ok {
		b.objects = n
	}
}

// HasBucket reports whether the bucket exists.
func (s *Stub) HasBucket(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	return ok
}

// InstanceNotifier

func (s *Stub) NotifyShuttingDown(_ context.Context, domain, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("NotifyShuttingDown", domain); err != nil {
		return err
	}
	s.notices = append(s.notices, domain+": "+reason)
	return nil
}
