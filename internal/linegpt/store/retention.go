package store

import (
	"context"
	"time"
)

// PurgeResult counts the rows removed by PurgeBefore.
type PurgeResult struct {
	Turns     int64
	Exchanges int64
}

// PurgeBefore deletes turns and exchanges created strictly before cutoff.
// Rows older than the dedup horizon are no longer read by the pipeline.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var res PurgeResult
	ts := FormatTime(cutoff)

	r, err := s.db.ExecContext(ctx, "DELETE FROM conversation_turns WHERE created_at < ?", ts)
	if err != nil {
		return res, &StorageError{Op: "purge turns", Err: err}
	}
	res.Turns, _ = r.RowsAffected()

	r, err = s.db.ExecContext(ctx, "DELETE FROM llm_exchanges WHERE created_at < ?", ts)
	if err != nil {
		return res, &StorageError{Op: "purge exchanges", Err: err}
	}
	res.Exchanges, _ = r.RowsAffected()
	return res, nil
}
