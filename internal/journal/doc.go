// Package journal records observed order status transitions in PostgreSQL.
//
// Transitions are queued in memory and written by a single goroutine in
// batches, flushed when a batch fills or on a fixed interval. Inserts are
// append-only and idempotent (ON CONFLICT DO NOTHING), so a transition seen
// twice is stored once.
//
// Table: order_status_events (see Schema).
package journal
