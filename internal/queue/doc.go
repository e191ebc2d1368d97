// Package queue provides the bounded FIFO used as a viewer session's
// outbound buffer.
//
// A Queue never blocks its producer. When full it either evicts the oldest
// item (DropOldest) or refuses the new one (Reject) and lets the owner
// decide what to do with the consumer.
package queue
