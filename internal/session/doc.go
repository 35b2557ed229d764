// Package session implements the per-consumer subscription facade.
//
// A Hub owns the session's single connection and router, and keeps the
// set of attached consumers. The connection is opened when the set goes
// from empty to non-empty and closed when it becomes empty again, so no
// consumer can sever a connection another consumer still needs.
//
// Each Consumer tracks connection status through its own listener, runs a
// heartbeat that pings only while connected, and removes every
// subscription it made when detached.
package session
