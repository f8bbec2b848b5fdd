// Package history archives conversation messages in PostgreSQL.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/trader-chat/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id           UUID PRIMARY KEY,
	session_id   TEXT NOT NULL,
	provider     TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	response_id  TEXT,
	verified     BOOLEAN NOT NULL DEFAULT FALSE,
	verify_error BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, created_at);
`

const insertMessage = `
INSERT INTO chat_messages (id, session_id, provider, role, content, response_id, verified, verify_error, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

const updateVerification = `
UPDATE chat_messages SET verified = $3, verify_error = NOT $3
WHERE session_id = $1 AND response_id = $2`

// Execer is the subset of pgxpool.Pool the store needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes messages to the chat_messages table.
type Store struct {
	db  Execer
	now func() time.Time
}

// NewStore creates a store on db.
func NewStore(db Execer) *Store {
	return &Store{db: db, now: time.Now}
}

// EnsureSchema creates the archive table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordMessage inserts msg under a new row id.
func (s *Store) RecordMessage(ctx context.Context, sessionID, provider string, msg model.Message) error {
	_, err := s.db.Exec(ctx, insertMessage,
		uuid.New(),
		sessionID,
		provider,
		string(msg.Role),
		msg.Content,
		msg.ID,
		msg.Verified,
		msg.VerifyError,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecordVerification stores the broker's verdict for a response.
func (s *Store) RecordVerification(ctx context.Context, sessionID, messageID string, verified bool) error {
	tag, err := s.db.Exec(ctx, updateVerification, sessionID, messageID, verified)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update verification: no message %q in session %s", messageID, sessionID)
	}
	return nil
}
