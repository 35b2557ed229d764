// Package model defines shared data types used across the fabsync client.
//
// All types mirror the portal's REST/WebSocket JSON payloads.
//
// Conventions:
//   - JSON field names are camelCase as sent by the portal API
//   - Timestamps: time.Time (RFC 3339 on the wire); optional ones are pointers
//   - IDs: opaque strings issued by the server
package model
