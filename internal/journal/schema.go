package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS order_status_events (
	order_id    TEXT        NOT NULL,
	from_status TEXT        NOT NULL DEFAULT '',
	to_status   TEXT        NOT NULL,
	source      TEXT        NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (order_id, to_status, observed_at)
)`

const insertSQL = `
	INSERT INTO order_status_events (order_id, from_status, to_status, source, observed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (order_id, to_status, observed_at) DO NOTHING
`

// Execer runs a single statement.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create order_status_events: %w", err)
	}
	return nil
}
