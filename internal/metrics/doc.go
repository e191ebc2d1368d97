// Package metrics provides Prometheus metrics for monitoring the relay.
//
// Key metrics:
//   - Upstream frames, decode errors, reconnects and link state
//   - Published messages and per-session deliveries
//   - Session queue overflows by policy
//   - Session opens/closes by reason
//
// A nil *Metrics is valid and records nothing.
package metrics
