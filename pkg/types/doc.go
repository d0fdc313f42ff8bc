/*
Package types defines the core data structures used throughout the hub.

This package contains the domain model of the instance lifecycle
orchestrator: managed instances, their infrastructure and billing records,
the worker ID registry, the provisioning event log, and federation tokens.
All other packages depend on these types for persistence, pipeline
execution, and reporting.

# Core Types

Instance lifecycle:
  - ManagedInstance: one tenant deployment and its status
  - InstanceStatus: pending, provisioning, running, failed, suspending,
    suspended, resuming, destroying, destroyed
  - InstanceRequest: operator-facing creation payload

Attached records (1:1 with the instance):
  - InstanceInfrastructure: external resource handles + generated secrets
  - InstanceBilling: tier triple and subscription state
  - InstanceConfig: rendered config document, versioned

Bookkeeping:
  - WorkerIDAllocation: registry row binding a snowflake worker ID to an
    instance; tombstoned on destruction, never reused
  - ProvisioningEvent: append-only step attempt log, keyed by
    (instance, pipeline, step, phase)
  - FederationToken: hashed long-lived credential minted from a
    bootstrap token

# State Machine

Instances follow a state machine driven by the pipelines:

	Pending → Provisioning → Running → Suspending → Suspended
	              ↓             ↓           ↓           ↓
	            Failed      Destroying  Destroying   Resuming
	                            ↓
	                        Destroyed

Valid transitions:
  - Pending → Provisioning (enqueue)
  - Provisioning → Running (all steps completed) or Failed
  - Running → Suspending (billing dunning) or Destroying
  - Suspended → Resuming → Running
  - any non-destroyed → Destroying → Destroyed

Destroyed and Failed are terminal for the pipelines; Failed instances can
be re-enqueued by an operator after the cause is fixed.

# Design Patterns

Enumerations are typed string constants:

	type InstanceStatus string
	const (
	    InstanceStatusPending InstanceStatus = "pending"
	    InstanceStatusRunning InstanceStatus = "running"
	)

Optional columns use pointers (*string, *time.Time, *int64): nil means the
owning step has not run yet, or the row was never soft-deleted.

The relational entities are 1:1 by instance_id; children store the parent
ID and are loaded as small projections, never as a deep object graph.

# Integration Points

  - pkg/storage: persists all types to Postgres
  - pkg/pipeline: reads/writes ProvisioningEvent rows for resume
  - pkg/provision, pkg/destroy, pkg/lifecycle: mutate instances and
    infrastructure records
  - pkg/configgen: renders InstanceConfig documents
  - pkg/federation: mints FederationToken rows

# Thread Safety

Types in this package are plain data. Concurrent mutation must be
synchronized by the caller; the storage layer serializes writes through
row-level database transactions.
*/
package types
