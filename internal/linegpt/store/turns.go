package store

import (
	"context"
	"database/sql"
	"time"
)

// ConversationTurn is one inbound message in a conversation.
type ConversationTurn struct {
	// ConversationID is the LINE room, group or user ID the message was
	// posted in.
	ConversationID string
	// AuthorID is the LINE user ID of the sender; empty when LINE did not
	// disclose it.
	AuthorID  string
	Text      string
	CreatedAt time.Time
}

func (t *ConversationTurn) document() map[string]any {
	return map[string]any{
		"conversationId": t.ConversationID,
		"authorId":       t.AuthorID,
		"text":           t.Text,
		"createdAt":      FormatTime(t.CreatedAt),
	}
}

// Validate checks the turn against its schema without writing it.
func (t *ConversationTurn) Validate() error {
	return validate("conversation turn", turnSchema, t.document())
}

// SaveTurn validates and writes t, replacing any row with the same primary key.
// t.CreatedAt is truncated to the stored precision first.
func (s *Store) SaveTurn(ctx context.Context, t *ConversationTurn) error {
	t.CreatedAt = NormalizeTime(t.CreatedAt)
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversation_turns (conversation_id, created_at, author_id, text)
		VALUES (?, ?, ?, ?)
	`, t.ConversationID, FormatTime(t.CreatedAt), t.AuthorID, t.Text)
	if err != nil {
		return &StorageError{Op: "save turn", Err: err}
	}
	return nil
}

// DeleteTurn removes the turn with the given primary key. Deleting a missing
// row is not an error.
func (s *Store) DeleteTurn(ctx context.Context, conversationID string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_turns WHERE conversation_id = ? AND created_at = ?",
		conversationID, FormatTime(createdAt),
	)
	if err != nil {
		return &StorageError{Op: "delete turn", Err: err}
	}
	return nil
}

// FindTurns runs q against conversation turns. ByFingerprint is not
// supported and returns ErrUnsupportedIndex.
func (s *Store) FindTurns(ctx context.Context, q Query) ([]*ConversationTurn, error) {
	if q.Index == ByFingerprint {
		return nil, ErrUnsupportedIndex
	}
	if q.Empty() {
		return nil, nil
	}

	query, args, err := q.sql("conversation_turns", "conversation_id, created_at, author_id, text")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "find turns", Err: err}
	}
	defer rows.Close()

	var turns []*ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "find turns", Err: err}
	}
	return turns, nil
}

func scanTurn(rows *sql.Rows) (*ConversationTurn, error) {
	var (
		t         ConversationTurn
		createdAt string
	)
	if err := rows.Scan(&t.ConversationID, &createdAt, &t.AuthorID, &t.Text); err != nil {
		return nil, &StorageError{Op: "scan turn", Err: err}
	}
	ts, err := ParseTime(createdAt)
	if err != nil {
		return nil, &StorageError{Op: "scan turn", Err: err}
	}
	t.CreatedAt = ts
	return &t, nil
}
