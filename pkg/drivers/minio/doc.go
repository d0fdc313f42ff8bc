// Package minio manages per-instance object storage on a MinIO
// deployment. It speaks two protocols: the S3 API (as root) for bucket
// and object lifecycle, and the console admin API for the user and
// bucket-scoped policy that make up an instance's principal.
//
// Principal provisioning is deliberately best-effort. A broken admin
// API must not block instance provisioning, so the bucket is created
// first and root credentials are handed back, flagged as a fallback,
// when the principal cannot be minted. The flag matters at teardown:
// a fallback provision records the root user as the instance's access
// key, and DeprovisionBucket refuses to delete that user.
package minio
