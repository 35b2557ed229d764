// Package database provides PostgreSQL connection pool management.
//
// The only database user is the optional status journal; a client without
// journal.enabled never opens a pool.
package database
