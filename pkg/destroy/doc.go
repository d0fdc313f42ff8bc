// Package destroy assembles the instance destruction pipeline: the
// teardown of everything provisioning built, in reverse dependency
// order, followed by finalization.
//
//	NotifyShuttingDown       courtesy POST + grace period
//	StopContainer            engine stop, 10s engine-side grace
//	RemoveProxyRoute         unpublish from the edge first
//	RemoveDnsRecord          keyed by subdomain, no handle needed
//	RemoveContainer          force-remove workload + config secret
//	RemoveNetwork            per-instance bridge network
//	RemoveObjectStoreBucket  drain, bucket, principal, policy
//	(finalization)           tombstone worker ID, soft-delete the row
//
// The pipeline is best-effort end to end. A step that exhausts its
// retries is logged and skipped; missing handles and 404s from drivers
// count as success. Whatever happens above, finalization marks the
// instance Destroyed. Orphaned external resources are an operator
// cleanup task; a destroyed-but-undeletable instance is not an option.
//
// The worker ID is tombstoned, never freed. Instance snowflakes embed
// it, so reuse would let two instance lifetimes mint colliding IDs.
package destroy
