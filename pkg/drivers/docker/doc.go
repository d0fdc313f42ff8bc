/*
Package docker implements the container engine driver over the Docker
Engine HTTP API.

Each managed instance gets a plain container named after its engine-side
hostname, one private bridge network, and a labeled named volume that
carries the rendered config document. The driver is converge-oriented:
every create call is safe to repeat, every remove treats a missing
target as success.

# Resource Layout

	┌──────────────────── container engine ─────────────────────┐
	│                                                            │
	│  network  xcord-net-acme-example-com   (private, bridge)   │
	│  network  <shared infra network>       (pre-existing)      │
	│                                                            │
	│  volume   xcord-cfg-acme-example-com-3fa8c21e              │
	│           └── xcord-config          (mode 0400)            │
	│                                                            │
	│  container  xcord-acme                                     │
	│    image:    instance application image                    │
	│    networks: private + shared                              │
	│    mount:    config volume at /run/secrets (read-only)     │
	│    restart:  unless-stopped                                │
	│    limits:   memory, CPU quota from the billing tier       │
	└────────────────────────────────────────────────────────────┘

# Config Delivery

The config document never rides the environment or any field that
inspect would echo back. CreateSecret creates a fresh named volume and
seeds the document into it through the archive endpoint of a created,
never-started scratch container; StartContainer mounts that volume
read-only at the fixed path. Volume names are versioned per render, so
a container keeps reading its own generation while a replacement is
prepared; stale generations are swept at the next render once nothing
pins them.

# Idempotence

CreateNetwork looks the network up by its derived name before creating,
so a replayed step converges on the existing one. StartContainer
resolves a name conflict by force-removing the stale container and
creating again; images missing from the engine are pulled on demand.
Stop blocks until the container has exited (the engine applies the
grace period, then SIGKILL), which lets a verify immediately after
observe the settled state.

The driver holds no state of its own; every answer comes from the
engine, so a hub restart loses nothing.
*/
package docker
