// Package session manages live viewer connections.
//
// Each session owns a WebSocket connection and a bounded outbound queue.
// Per session:
//   - a read goroutine watches for the peer going away and enforces the pong deadline
//   - a write goroutine is the only writer of data frames and drains the queue
//   - a keepalive goroutine sends pings
//
// A session is torn down exactly once, whatever triggers it: read error,
// write error, queue overflow under the disconnect policy, or Shutdown.
package session
