/*
Package health probes the external dependencies the hub cannot work
without and aggregates their verdicts for readiness and boot gating.

The hub is a thin control plane over fat dependencies: the control
database, the container engine, the DNS and proxy layers, the object
store, the shared cache handed to every tenant. None of them are
optional, and in compose-style deployments most of them come up after
the hub process does. This package answers two questions about them:
"may I start?" and "am I ready right now?".

# Architecture

	┌──────────────────────────────────────────────────────┐
	│                  Checker interface                   │
	│         Name() string   Check(ctx) Result            │
	└────┬─────────┬─────────┬─────────┬──────────┬────────┘
	     │         │         │         │          │
	     ▼         ▼         ▼         ▼          ▼
	 Database    Redis     HTTP       TCP       Func
	 (sqlx       (cache    (proxy     (media    (engine
	  ping)       PING)     admin,     server)   ping)
	                        object
	                        store)

Every checker returns a Result rather than an error, so callers always
get a message, a timestamp, and the probe latency even on success.

# Boot Gating

Wait retries each checker on a fixed cadence until it passes or the
attempt budget runs out:

	checkers := []health.Checker{
		health.NewDatabase(db),
		health.NewFunc("engine", engine.Ping),
		health.NewRedis(cache),
	}
	if err := health.Wait(ctx, 30, 2*time.Second, checkers...); err != nil {
		return err // refuse to start
	}

A hub that starts before its database answers would fail every queue
poll and every API request; refusing to start is cleaner than starting
broken.

# Readiness

Registry.Run probes all checkers concurrently and aggregates them into
a Summary, which the API serves as /readyz:

	{
	  "ready": false,
	  "checks": {
	    "database": {"healthy": true,  "message": "connected", ...},
	    "engine":   {"healthy": true,  "message": "ok", ...},
	    "proxy":    {"healthy": false, "message": "dial failed: ...", ...}
	  }
	}

Readiness is point-in-time: each request probes live rather than
serving a cached verdict, so a flapped dependency shows up on the next
poll, not after some refresh interval. The probes are cheap pings with
short timeouts; load balancer poll rates are well within what the
dependencies tolerate.

Tenant application health is deliberately not here. The engine owns
in-container health checks, and the reconciler owns detecting drifted
instance infrastructure.
*/
package health
