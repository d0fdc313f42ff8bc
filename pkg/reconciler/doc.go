/*
Package reconciler detects and repairs drift between the hub's records
and the infrastructure instances actually run on.

An instance row saying Running is a promise: a container is up, the
proxy routes its domain, and public DNS resolves to the gateway. Any of
those can rot behind the hub's back. Containers die with the engine
host, an operator hand-edits the proxy, a zone import drops records.
The reconciler periodically re-verifies the promise and, when allowed,
re-runs the provisioning steps that own whatever drifted.

# Architecture

Sweeps run on a cron schedule (default every five minutes):

	┌─────────────────────────────────────────────────────────┐
	│                        Sweep                            │
	│           (every Running instance, claimed)             │
	└──────┬───────────────────┬──────────────────┬───────────┘
	       │                   │                  │
	       ▼                   ▼                  ▼
	┌─────────────┐     ┌─────────────┐    ┌─────────────┐
	│  container  │     │    route    │    │     dns     │
	│   check     │     │    check    │    │    check    │
	└──────┬──────┘     └──────┬──────┘    └──────┬──────┘
	       │                   │                  │
	       ▼                   ▼                  ▼
	  engine says         proxy admin        resolver answers
	  running?            knows route?       with gateway IP?
	       │                   │                  │
	       └───────────┬───────┴──────────────────┘
	                   ▼
	        drift: count + log + event
	                   │
	                   ▼  (self_heal only)
	        re-run owning provisioning step

Each check has exactly three verdicts. Converged records nothing.
Drifted increments hub_reconciler_drift_total{check}, logs a warning,
and publishes a reconciler.drift event. Inconclusive (the probe itself
errored) records nothing: a flapping resolver or a briefly unreachable
engine API must not read as fleet-wide drift.

# Claim Discipline

Before touching an instance the sweep claims it through the queue, the
same in-process claim table the worker dispatchers use. A claimed
instance is skipped: the worker that owns it is mid-pipeline and will
converge the handles itself. Holding the claim for the duration of the
checks and repairs means a run enqueued mid-sweep waits instead of
racing the heal. Claims are per-instance, so a slow repair on one
tenant never blocks checks on the rest.

The claim also closes the listing race. Instances are listed once per
sweep, so one may have been suspended or destroyed by the time its turn
comes. After claiming, the sweep reloads the row and walks away unless
it is still Running.

# Self-Heal

With self_heal enabled, each drifted check maps to the provisioning
step that owns the handle:

	container    → StartApiContainer
	route, dns   → ConfigureDnsAndProxy

The steps come from the assembled provisioning pipeline and run through
the executor's single-step entry point, so a heal gets the same retry
budget, event log rows, and step metrics as the original provision.
StartApiContainer short-circuits when the recorded container is already
running and otherwise recreates it; ConfigureDnsAndProxy upserts the
record and the route. Both were built to converge, which is what makes
them safe to re-run years after the first pass.

Steps are deduplicated (route and dns share one) and run container
first, so the edge is never repointed at a container the same sweep
knows is dead. Heal outcomes land in hub_reconciler_heals_total and
reconciler.healed events.

With self_heal disabled (the default) the sweep is a pure observer:
operators get the counters and events and decide themselves, usually by
re-queueing provisioning for the drifted instance.

# DNS Probe

The dns check asks a real recursive resolver, not the DNS provider's
API: the question is what tenants resolve, not what the zone contains.
The resolver address comes from configuration; when unset the check is
skipped entirely, which is the right call for environments whose edge
DNS is managed out of band. NXDOMAIN and answers missing the gateway IP
are drift; timeouts are inconclusive.

# Inventory Gauges

The sweep already reads the whole instance table, so it also owns the
hub_instances_total{status} and hub_worker_ids_in_use gauges. They are
recomputed from scratch each sweep rather than incremented on events,
so a missed event can skew them for at most one sweep interval.

# Integration Points

  - pkg/queue     - TryClaim/Release keep worker and sweep off the same row
  - pkg/pipeline  - Executor.RunStep re-runs one step with full accounting
  - pkg/provision - owns the steps self-heal borrows
  - pkg/drivers   - engine and proxy probes
  - pkg/events    - reconciler.drift / reconciler.healed for the API stream
*/
package reconciler
