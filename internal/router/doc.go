// Package router implements the Event Router component.
//
// The Event Router:
//   - Decodes inbound push frames ({"type", "data"}) into typed events
//   - Keeps a topic-keyed registry of subscriber handlers
//   - Delivers each published event to every handler of its topic, in
//     subscription order, on the publishing goroutine
//   - Isolates subscribers: a panicking handler is logged and skipped
package router
