// Package postgres provides a PostgreSQL-backed [memory.Log].
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Append(ctx, memory.Entry{Participant: "123", Role: "user", Text: "hi"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationLog = `
CREATE TABLE IF NOT EXISTS conversation_log (
    id           BIGSERIAL    PRIMARY KEY,
    participant  TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    backend      TEXT         NOT NULL DEFAULT '',
    at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_log_participant_id
    ON conversation_log (participant, id);
`

// Migrate creates the conversation_log table and its index. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationLog); err != nil {
		return fmt.Errorf("postgres migrate: conversation log: %w", err)
	}
	return nil
}
