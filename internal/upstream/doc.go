// Package upstream implements the relay's single subscription to the
// inference publisher.
//
// The Subscriber:
//   - Owns exactly one ZeroMQ SUB connection (topic filter "" by default)
//   - Decodes every frame into a model.TelemetryMessage, dropping malformed ones
//   - Detects half-open or silent links with a frame-silence watchdog
//   - Reconnects with capped exponential backoff, indefinitely, until stopped
package upstream
