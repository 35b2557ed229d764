// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns at most one push transport per authenticated session
//   - Skips connecting when no valid, non-expired token is available
//   - Publishes connection, error and decoded frame events to the router
//   - Reconnects after abnormal closes at a fixed interval, up to a bound
//   - Never reconnects after a manual Disconnect
//
// Time is injected through a Scheduler so reconnect timing can be driven
// by tests without sleeping.
package connection
