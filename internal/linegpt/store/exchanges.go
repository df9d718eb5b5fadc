package store

import (
	"context"
	"database/sql"
	"time"
)

// Exchange records one LLM call attempt for a conversation.
type Exchange struct {
	ConversationID string
	AuthorID       string
	// Fingerprint is the SHA-256 hex digest of RequestBody.
	Fingerprint string
	// RequestBody is the canonical JSON of the message list that was sent.
	RequestBody string
	// ResponseBody is the raw provider payload, or {"error_message": ...}
	// when the call timed out or returned nothing usable.
	ResponseBody string
	CreatedAt    time.Time
}

func (e *Exchange) document() map[string]any {
	return map[string]any{
		"conversationId": e.ConversationID,
		"authorId":       e.AuthorID,
		"fingerprint":    e.Fingerprint,
		"requestBody":    e.RequestBody,
		"responseBody":   e.ResponseBody,
		"createdAt":      FormatTime(e.CreatedAt),
	}
}

// Validate checks the exchange against its schema without writing it.
func (e *Exchange) Validate() error {
	return validate("llm exchange", exchangeSchema, e.document())
}

// SaveExchange validates and writes e, replacing any row with the same
// primary key. e.CreatedAt is truncated to the stored precision first.
func (s *Store) SaveExchange(ctx context.Context, e *Exchange) error {
	e.CreatedAt = NormalizeTime(e.CreatedAt)
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO llm_exchanges
			(conversation_id, created_at, author_id, fingerprint, request_body, response_body)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ConversationID, FormatTime(e.CreatedAt), e.AuthorID, e.Fingerprint, e.RequestBody, e.ResponseBody)
	if err != nil {
		return &StorageError{Op: "save exchange", Err: err}
	}
	return nil
}

// DeleteExchange removes the exchange with the given primary key. Deleting a
// missing row is not an error.
func (s *Store) DeleteExchange(ctx context.Context, conversationID string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM llm_exchanges WHERE conversation_id = ? AND created_at = ?",
		conversationID, FormatTime(createdAt),
	)
	if err != nil {
		return &StorageError{Op: "delete exchange", Err: err}
	}
	return nil
}

// FindExchanges runs q against LLM exchanges.
func (s *Store) FindExchanges(ctx context.Context, q Query) ([]*Exchange, error) {
	if q.Empty() {
		return nil, nil
	}

	query, args, err := q.sql("llm_exchanges",
		"conversation_id, created_at, author_id, fingerprint, request_body, response_body")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "find exchanges", Err: err}
	}
	defer rows.Close()

	var out []*Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "find exchanges", Err: err}
	}
	return out, nil
}

func scanExchange(rows *sql.Rows) (*Exchange, error) {
	var (
		e         Exchange
		createdAt string
	)
	if err := rows.Scan(&e.ConversationID, &createdAt, &e.AuthorID, &e.Fingerprint, &e.RequestBody, &e.ResponseBody); err != nil {
		return nil, &StorageError{Op: "scan exchange", Err: err}
	}
	ts, err := ParseTime(createdAt)
	if err != nil {
		return nil, &StorageError{Op: "scan exchange", Err: err}
	}
	e.CreatedAt = ts
	return &e, nil
}
