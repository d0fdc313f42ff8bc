// Package provision assembles the instance provisioning pipeline: the
// ordered steps that take a pending managed instance to a running,
// routable deployment.
//
// Step order is load-bearing. Each step's event-log name and position
// feed the executor's resume logic, so reordering or renaming steps
// invalidates in-flight histories:
//
//	ValidateSubdomain      domain shape + uniqueness against live rows
//	EnforceTierLimits      owner's live-instance count vs tier cap
//	AllocateWorkerId       claim a snowflake worker ID (never reused)
//	GenerateSecrets        mint every credential, once, into one row
//	ProvisionDatabase      role + database on the shared tenant cluster
//	ProvisionObjectStore   bucket + scoped credentials (root fallback)
//	CreateNetwork          per-instance attachable overlay network
//	RunMigrations          handoff marker, schema runs on instance boot
//	StartApiContainer      render config, ship secret, start workload
//	ConfigureDnsAndProxy   A record at the gateway + host-header route
//	ActivateInstance       flip status to running
//
// Every step is written to re-run: creates are idempotent at the driver
// boundary, secrets short-circuit on an existing row, and handles are
// persisted the moment they exist so a crash between any two writes
// leaves nothing unfindable. Status stays Provisioning until the final
// step, which keeps the row claimable by the queue across crashes.
//
// Failure classification lives in pkg/pipeline: fatal codes abandon the
// run immediately, everything else retries with backoff and ends in a
// MAX_RETRIES_EXCEEDED envelope if the disruption outlives the budget.
//
// # Integration Points
//
// Steps reach external systems only through the driver interfaces in
// pkg/drivers and the MaintenanceDB handle, so scenario tests run the
// whole pipeline against in-memory fakes. Config document rendering is
// delegated to pkg/configgen; rendering rotates the instance's
// bootstrap token, which is why StartApiContainer restarts an existing
// container instead of re-rendering when it can.
package provision
