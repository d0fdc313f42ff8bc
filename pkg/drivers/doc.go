// Package drivers defines the infrastructure capabilities the
// provisioning and destruction pipelines depend on, and an in-memory
// stub used by their tests.
//
// # Architecture
//
// Each external system the hub touches is abstracted behind a small
// interface. Pipeline steps receive a Set and never import an SDK:
//
//	┌───────────────────────────────────────────────┐
//	│                 pipeline steps                │
//	└───────┬───────┬────────┬──────────┬───────────┘
//	        │       │        │          │
//	        ▼       ▼        ▼          ▼
//	  ContainerEngine  DNSProvider  ReverseProxy  ObjectStore
//	        │       │        │          │
//	        ▼       ▼        ▼          ▼
//	  drivers/docker  drivers/route53  drivers/caddy  drivers/minio
//	  (engine API)    (hosted zone)    (admin API)    (S3 + console)
//
// InstanceNotifier is the odd one out: it talks to the instance's own
// API server rather than to infrastructure, and only to say goodbye.
//
// # Contract
//
// The interfaces encode the idempotence rules the pipelines rely on:
//
//   - Creation calls are safe to repeat. CreateNetwork returns the
//     existing network for a domain, CreateSecret replaces a stale
//     same-name secret, StartContainer replaces a stale same-name
//     container, CreateRoute reuses a stable per-domain route ID.
//   - Removal calls treat a missing target as success. Destruction is
//     best effort and must converge when half the resources are
//     already gone.
//   - Verify calls prove the resource works, not merely that it
//     exists. VerifyBucket performs an authenticated list with the
//     instance credentials; VerifyRoute fetches the route back from
//     the proxy.
//
// # The stub
//
// Stub implements all five interfaces against in-memory maps. It keeps
// a call log (Calls, CallsFor) so tests can assert exactly which
// operations ran against which resource, and programmable failures
// (FailTimes, FailAlways) so tests can rehearse transient outages and
// permanent ones. RootFallbackMode simulates an object store whose
// admin API is down: buckets are still created but only root
// credentials come back.
//
// # Integration Points
//
//   - pkg/provision, pkg/destroy, pkg/lifecycle: consume Set
//   - pkg/drivers/docker, route53, caddy, minio, notify: real drivers
//   - pkg/health: probes the same endpoints the drivers use
package drivers
