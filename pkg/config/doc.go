/*
Package config loads and validates the orchestrator configuration.

Configuration comes from HUB_* environment variables layered over an
optional YAML file (viper). Nested keys map to underscored variables:
"database.maintenance_url" becomes HUB_DATABASE_MAINTENANCE_URL. Structs
are validated after binding; a process must not start with a partial
configuration.

The KEK is not part of the Config struct. It is read separately from the
file named by HUB_KEK_FILE via LoadKEK, which accepts raw, base64, or hex
encodings of exactly 32 bytes. Filesystem access goes through afero so
tests inject an in-memory fs.

Unrecoverable configuration errors (missing KEK file, unparseable values,
failed validation) are returned to main, which logs and exits non-zero.
*/
package config
