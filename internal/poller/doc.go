// Package poller implements the Polling Fallback Coordinator.
//
// The Poller:
//   - Ticks at a fixed interval (30s by default) while started
//   - Re-fetches the watched resource only while the push connection is down
//   - Learns connectivity from connection events, never from a shared flag,
//     seeded at Start from WithConnected when the connection is already up
//   - Skips a tick rather than overlap a fetch still in flight
//   - Discards results that arrive after Stop
package poller
