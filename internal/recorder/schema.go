package recorder

import (
	"context"
	"fmt"
)

// Schema creates the tables the recorder writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS ws_messages (
	id          UUID PRIMARY KEY,
	session_id  UUID NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ws_messages_session_idx ON ws_messages (session_id, received_at);

CREATE TABLE IF NOT EXISTS ws_events (
	id          UUID PRIMARY KEY,
	session_id  UUID NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS ws_events_session_idx ON ws_events (session_id, occurred_at);
`

const (
	insertMessageSQL = `
		INSERT INTO ws_messages (id, session_id, received_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	insertEventSQL = `
		INSERT INTO ws_events (id, session_id, occurred_at, kind, detail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
)

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure recorder schema: %w", err)
	}
	return nil
}
