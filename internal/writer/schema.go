package writer

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS edit_journal (
	edit_id     UUID PRIMARY KEY,
	session_id  TEXT   NOT NULL,
	item_id     TEXT   NOT NULL,
	user_id     TEXT   NOT NULL,
	user_name   TEXT   NOT NULL,
	changes     JSONB  NOT NULL,
	client_ts   BIGINT NOT NULL,
	received_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS edit_journal_session_item_idx
	ON edit_journal (session_id, item_id, received_at);
`

const insertEdit = `
	INSERT INTO edit_journal (edit_id, session_id, item_id, user_id, user_name, changes, client_ts, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (edit_id) DO NOTHING
`

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create edit_journal: %w", err)
	}
	return nil
}
