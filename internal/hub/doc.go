// Package hub implements the broadcast registry between the upstream
// subscriber and viewer sessions.
//
// Publish takes a snapshot of the registered sessions under a read lock and
// enqueues outside it. Session.Enqueue must never block and must never call
// back into the Hub; a slow or failing viewer is handled entirely by its own
// session.
package hub
