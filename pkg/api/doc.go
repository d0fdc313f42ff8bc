/*
Package api implements the hub's HTTP surface: health and readiness,
Prometheus metrics, read-only ops endpoints, and the federation
call-home routes.

The hub takes no commands over HTTP. Instances are created, destroyed,
suspended, and resumed by writing rows and statuses into the control
database (the operator CLI does exactly that); the worker picks them up
from the queue. What HTTP serves is everything around that loop:
observation for operators and load balancers, and the one surface
tenant instances themselves must reach, the federation exchange.

# Routes

	GET  /healthz                       liveness (process up)
	GET  /readyz                        per-dependency readiness
	GET  /metrics                       Prometheus registry

	GET  /api/v1/instances              all instances, ?status= filter
	GET  /api/v1/instances/{id}         one instance + billing + claim state
	GET  /api/v1/instances/{id}/events  step event log, ?pipeline= filter
	GET  /api/v1/queue                  per-pipeline queue depth and head
	GET  /api/v1/events                 recent lifecycle events (ring)
	GET  /api/v1/events/stream          lifecycle events over SSE

	POST /api/v1/federation/exchange    bootstrap token -> federation token
	POST /api/v1/federation/validate    federation token -> instance identity
	POST /api/v1/federation/revoke      kill a token; restart re-exchanges

# Architecture

	            ┌──────────────── chi router ────────────────┐
	            │  RealIP → instrument → Recoverer → handler  │
	            └──┬──────────┬───────────┬──────────┬────────┘
	               │          │           │          │
	               ▼          ▼           ▼          ▼
	           health.     storage.    queue /   federation.
	           Registry    Store       events    Service

The instrument middleware feeds hub_api_requests_total and
hub_api_request_duration_seconds and writes one debug log line per
request. Recoverer sits inside it so panics still count as 500s.

# Reading Without Leaking

Instance reads never include the infrastructure row: it holds database
passwords, object store keys, and wrapped KEK material. The detail
endpoint serves the instance, its billing tier, and whether a worker
currently holds it; the event log serves step names, phases, and error
text, which by construction never contain secrets.

# Federation Surface

Instance containers find the hub through the federation.hubEndpoint key
in their config document and call /exchange exactly once with their
bootstrap token. All refusals are the same 401 with the same body; the
distinguishing reasons go to hub logs and metrics where a probing
caller cannot see them. /validate is for sibling services that accept
federation tokens and need the instance identity behind one. /revoke
takes the token itself as proof of possession; a revoked instance gets
a fresh token by restarting, never by a hub-side reveal.

# Streaming

/api/v1/events/stream is server-sent events off the in-process broker.
Subscribers that fall behind miss events instead of blocking publishers,
so the stream is a tail, not a ledger; /api/v1/events serves the recent
ring for catch-up, and the per-instance event log remains the durable
record.
*/
package api
