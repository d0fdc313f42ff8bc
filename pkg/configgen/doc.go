// Package configgen renders the configuration an instance container
// boots with.
//
// Two outputs come from one Renderer:
//
//   - RenderDocument: the full artifact (connection strings, object
//     store credentials, media keys, wrapped KEK, bootstrap token,
//     tier limits and flags). It exists only inside the engine secret
//     mounted at MountPath; it is never written to the database or to
//     logs. Every render rotates the one-time bootstrap token and
//     stores its hash on the infrastructure row, so the hash on file
//     always matches the token the container actually received.
//
//   - Regenerate: the secret-free core (identity, JWT realm, CORS,
//     rate limits, outbox settings) plus the tier's limits and flags,
//     persisted to the instance_configs row with a version bump. It is
//     the operator-visible record of what the tier resolved to, and
//     the tier-change path: bump the row, restart the container, and
//     the next render picks up the new tier.
//
// # Integration Points
//
//   - pkg/provision: StartApiContainer renders the document into the
//     engine secret
//   - pkg/storage: infrastructure row (credentials in, token hash out)
//     and instance_configs row
//   - pkg/tier: limits and flags resolution
//   - cmd/hubd: instance request creates the initial config row
package configgen
