/*
Package events provides an in-memory event broker for hub lifecycle events.

The events package implements a lightweight event bus for broadcasting
instance lifecycle changes to interested subscribers. It decouples the
worker, reconciler, and federation flows from the ops surfaces that
observe them.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publishers                                                │
	│    worker:      instance.queued / running / failed /       │
	│                 suspended / resumed / destroyed            │
	│    reconciler:  reconciler.drift / reconciler.healed       │
	│    federation:  federation.token_issued / token_revoked    │
	│            │                                               │
	│            ▼                                               │
	│  Event Channel (buffer: 100)                               │
	│            │                                               │
	│            ▼                                               │
	│  Broadcast Loop ──► Subscriber Channels (buffer: 50 each)  │
	│                                                            │
	│  Subscribers                                               │
	│    Recorder:  recent-activity ring served by the ops API   │
	│    Tests:     assert on published lifecycle events         │
	└────────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central bus for event distribution
  - Non-blocking publish (buffered channel)
  - Full subscriber buffers skip, never block

Event:
  - ID: UUID stamped at publish when unset
  - Type: lifecycle event type (instance.running, reconciler.drift, ...)
  - InstanceID: the managed instance the event concerns, if any
  - Message: human-readable description
  - Metadata: key-value pairs for additional context

Recorder:
  - Ring buffer subscriber holding the most recent events
  - Serves the ops API's activity feed, newest first

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	rec := events.NewRecorder(broker, 256)
	rec.Start()
	defer rec.Stop()

	broker.Publish(events.NewInstanceEvent(
		events.EventInstanceRunning, instance.ID,
		"instance provisioned"))

# Design Notes

Delivery is fire-and-forget: no acknowledgment, no replay, best-effort
only. The durable record of pipeline execution is the provisioning
event log in pkg/storage; this broker exists for observation, never for
correctness.

# Integration Points

  - pkg/worker: publishes terminal pipeline transitions
  - pkg/reconciler: publishes drift and heal outcomes
  - pkg/federation: publishes token issue/revoke
  - pkg/api: serves the Recorder ring as the activity feed
*/
package events
