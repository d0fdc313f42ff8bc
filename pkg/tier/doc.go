/*
Package tier resolves billing tiers into resource limits and feature flags.

A tier is the triple (feature tier, user count tier, hd upgrade). The
feature tier gates product surfaces (chat/audio/video) and caps how many
live instances one owner may run; the user count tier sets the container's
memory/CPU limits, rate limits, and upload ceiling. The catalog ships
embedded in the binary and can be overridden with a YAML file for
per-environment pricing experiments.

Limits convert directly to engine units: MemoryBytes for the container
memory cap, CPUQuota against the engine's 100ms scheduling period.
*/
package tier
