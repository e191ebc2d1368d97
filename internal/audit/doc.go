// Package audit records the relay's link and session lifecycle.
//
// Events cover viewer sessions opening and closing and upstream state
// transitions. Telemetry itself is never recorded. Sinks:
//   - LogAuditor writes each event through slog
//   - Writer batches events into the relay_events PostgreSQL table
//
// Record never blocks the caller.
package audit
