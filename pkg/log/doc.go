/*
Package log provides structured logging for Bay using zerolog.

The log package wraps zerolog to give every component a JSON- or
console-formatted logger with timestamps, a configurable level, and
helper methods for attaching the identifiers Bay cares about — ship IDs
and session IDs — as structured fields instead of string-formatted ones.

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│  Global Logger (zerolog.Logger), set via log.Init(cfg)    │
	│                     │                                      │
	│  Component loggers: WithComponent("allocator")             │
	│  Ship loggers:      WithShipID("ship-abc123")               │
	│  Session loggers:   WithSessionID("session-xyz")            │
	└────────────────────────────────────────────────────────────┘

JSON output (cfg.JSONOutput = true):

	{"level":"info","time":"...","component":"allocator","message":"ship created"}

Console output (default, human-readable, RFC 3339 timestamps):

	2006-01-02T15:04:05Z INF ship created component=allocator
*/
package log
