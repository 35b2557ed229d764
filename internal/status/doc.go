// Package status serves a small local HTTP endpoint for a running client.
//
// Routes:
//
//	GET /healthz  200 "ok" while the process is up
//	GET /status   JSON: push connection snapshot plus registered component stats
//
// Components register a reporter function by name; each /status request
// calls every reporter and embeds the result under "components".
package status
