// Package api provides the portal REST client used by the sync core.
//
// Endpoints (relative to the REST base, e.g. http://localhost:8000/api):
//   - GET   /orders/{id}
//   - GET   /notifications
//   - PATCH /notifications/{id}/read
//   - PATCH /notifications/read-all
//
// Every request carries the session's bearer token.
package api
