/*
Package log provides structured logging for latticedb using zerolog.

The log package wraps zerolog to give every layer of the engine (storage,
catalog, compaction, query, raft, cluster) a component-scoped logger with
JSON or console output, a configurable level, and a handful of context
helpers for the identifiers that recur across this domain: entity type,
LSN, and plan fingerprint.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog.Logger instance                  │          │
	│  │  - initialized via log.Init()               │          │
	│  │  - thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("storage"|"raft"|"query")  │          │
	│  │  - WithNodeID("node-abc123")                │          │
	│  │  - WithEntityType("User")                   │          │
	│  │  - WithLSN(42)                              │          │
	│  │  - WithFingerprint(0xdeadbeef)              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	import "github.com/cuemby/latticedb/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	storageLog := log.WithComponent("storage")
	storageLog.Info().Msg("engine opened")

	compactionLog := log.WithComponent("compaction").
		With().Int("versions_removed", 12).Logger()
	compactionLog.Info().Msg("pass complete")

Domain context helpers:

	raftLog := log.WithLSN(entry.LSN)
	raftLog.Debug().Str("entity_type", entry.EntityType).Msg("applied mutation")

	queryLog := log.WithFingerprint(plan.Fingerprint)
	queryLog.Info().Bool("cache_hit", hit).Msg("plan resolved")

# Design Patterns

Global Logger Pattern: a single package-level Logger instance, initialized
once at process start and accessible from every package without being
threaded through call signatures, appropriate because nothing in this
engine needs more than one logging sink per process.

Context Logger Pattern: component and domain helpers return a child
zerolog.Logger with extra fields already attached, so callers several
layers deep don't repeat `Str("component", ...)` at every call site.

# Best Practices

Do:
  - use Info level in production, Debug only when diagnosing
  - attach lsn/fingerprint/entity_type context instead of formatting it
    into the message string
  - log compaction and plan-cache results as structured fields, not prose

Don't:
  - log record field values (they may contain client data)
  - log inside the filter evaluator's per-row hot path
  - block on log writes; prefer a buffered or async Output for high volume
*/
package log
