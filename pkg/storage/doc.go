/*
Package storage provides Postgres-backed state persistence for the hub.

The storage package implements the Store interface over Postgres via
sqlx, holding all orchestrator state: managed instances, their
infrastructure/billing/config records, the worker ID registry, the
provisioning event log, and federation tokens. Schema migrations are
embedded in the binary and applied with goose.

# Architecture

	┌──────────────────── POSTGRES STORAGE ─────────────────────┐
	│                                                             │
	│  ┌────────────────────────────────────────────┐            │
	│  │            PostgresStore                    │            │
	│  │  - Driver: pgx (database/sql stdlib mode)   │            │
	│  │  - Pool: 10 open / 5 idle connections       │            │
	│  │  - Binding: sqlx ($N placeholders)          │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │              Tables                         │            │
	│  │  managed_instances      (snowflake id PK)   │            │
	│  │  instance_infrastructure (1:1, FK)          │            │
	│  │  instance_billing        (1:1, FK)          │            │
	│  │  instance_configs        (1:1, FK)          │            │
	│  │  worker_id_registry      (worker_id PK)     │            │
	│  │  provisioning_events     (append-only)      │            │
	│  │  federation_tokens       (hash unique)      │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                       │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │        Key Indexes                          │            │
	│  │  - live domain: UNIQUE (domain)             │            │
	│  │      WHERE deleted_at IS NULL               │            │
	│  │  - queue probe: (status, created_at)        │            │
	│  │  - event replay: (instance, pipeline,       │            │
	│  │      started_at)                            │            │
	│  └────────────────────────────────────────────┘            │
	└─────────────────────────────────────────────────────────────┘

# Transaction Model

Every Store method is a single-statement (or single-row) transaction at
the database. There are no cross-row transactions: pipelines tolerate
observing partial prior state, and each step commits at its boundary.
The one multi-statement flow, AllocateWorkerID, relies on the registry's
primary key instead of a transaction: losing a race surfaces as a
unique violation and the scan retries on the next gap.

# Error Mapping

Database conditions surface as sentinel errors callers test with
errors.Is:

  - sql.ErrNoRows            → ErrNotFound
  - unique violation (23505)
    on the live-domain index → ErrDomainTaken
  - exhausted worker ID scan → ErrWorkerIDsExhausted

Everything else wraps the driver error with context.

# The Queue

The work queue is not a table. Enqueue is a status transition on the
instance row; dequeue is OldestInstanceWithStatus: the oldest live row in
a given status. A crashed worker leaves the row visible, so delivery is
at-least-once and recovery is automatic.

# Worker ID Registry

Worker IDs 11-1023 are allocated one per instance, lowest absent value
first. Rows are never deleted by the orchestrator: destruction tombstones
the row (is_tombstoned = TRUE, released_at stamped), which pins the ID
forever. An operator may hard-delete a never-tombstoned row of a failed
instance to return its ID to the pool.

# Migrations

pkg/storage/migrations holds goose SQL files embedded via go:embed.
RunMigrations applies pending versions at boot and from `hubd migrate`;
goose's version table makes this idempotent.

# Integration Points

  - pkg/queue: enqueue/dequeue built on instance status updates
  - pkg/pipeline: event log insert/complete/list for resume
  - pkg/provision, pkg/destroy, pkg/lifecycle: row mutations per step
  - pkg/federation: token rows
  - pkg/health: Ping as the readiness probe

# Testing

Unit tests run against go-sqlmock: they pin the SQL shapes, the sentinel
error mapping, and the allocation conflict-retry loop without a live
database. Integration coverage belongs to the e2e suite.
*/
package storage
