/*
Package log provides structured logging for the hub using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include timestamps
and support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ───────────────────┐
	│                                                         │
	│  ┌──────────────────────────────────────────┐          │
	│  │            Global Logger                  │          │
	│  │  - Zerolog instance                       │          │
	│  │  - Initialized via log.Init()             │          │
	│  │  - Thread-safe for concurrent use         │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │                                   │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │         Component Loggers                 │          │
	│  │  - WithComponent("worker")                │          │
	│  │  - WithInstanceID(100)                    │          │
	│  │  - WithStep("provision", "CreateNetwork") │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │                                   │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │            Log Output                     │          │
	│  │  JSON (production) or console (dev)       │          │
	│  └──────────────────────────────────────────┘          │
	└─────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured logging:

	log.Logger.Info().
		Int64("instance_id", 100).
		Str("step", "CreateNetwork").
		Msg("step completed")

Component loggers:

	workerLog := log.WithComponent("worker")
	workerLog.Info().Msg("dequeued instance")

	stepLog := log.WithStep("destroy", "RemoveNetwork")
	stepLog.Warn().Err(err).Msg("best-effort step failed")

# Log Output Examples

JSON format (production):

	{"level":"info","component":"worker","instance_id":100,"time":"2026-03-11T10:30:00Z","message":"pipeline finished"}
	{"level":"warn","component":"destroy","step":"RemoveDnsRecord","time":"2026-03-11T10:30:02Z","message":"record already absent"}

Console format (development):

	10:30:00 INF pipeline finished component=worker instance_id=100
	10:30:02 WRN record already absent component=destroy step=RemoveDnsRecord

# Security

Never log secrets: database passwords, storage keys, bootstrap tokens,
KEK material, and rendered config documents must not appear in log
fields. Log lengths or hashes instead when a breadcrumb is needed.

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() once, at the layer that handles them

Don't:
  - Log sensitive data (secrets, tokens, keys)
  - Use Debug level in production
  - Log at error level inside best-effort destruction steps (use warn)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
