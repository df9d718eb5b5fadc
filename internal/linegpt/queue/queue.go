// Package queue is a durable, FIFO-per-group message queue on SQLite.
//
// The webhook receiver enqueues one message per LINE event with the
// conversation ID as group; the worker receives, processes and acknowledges
// them. Delivery is at-least-once: a message that is not acknowledged before
// its visibility timeout expires, or that is explicitly released, is
// delivered again. Within a group only the oldest unfinished message is ever
// visible, so a conversation's events are processed strictly in order while
// different conversations proceed in parallel.
//
// The schema is owned by the store package migrations; Queue only needs the
// shared *sql.DB.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	statusPending  = "pending"
	statusInflight = "inflight"
	statusDone     = "done"
	statusDead     = "dead"
)

const (
	// DefaultVisibilityTimeout is how long a received message stays hidden.
	DefaultVisibilityTimeout = 2 * time.Minute
	// DefaultMaxReceives is the number of deliveries after which a message
	// is moved to the dead state.
	DefaultMaxReceives = 5
	// DefaultDedupWindow is how long acknowledged messages are kept so a
	// redelivered webhook with the same dedup ID is still rejected.
	DefaultDedupWindow = 5 * time.Minute
)

// ErrNotInflight is returned by Ack and Release when the message is no longer
// held by the caller (its visibility expired and it was received again).
var ErrNotInflight = errors.New("queue: message is not in flight")

// Message is one received queue entry.
type Message struct {
	ID           int64
	GroupID      string
	DedupID      string
	Body         []byte
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Options configures a Queue.
type Options struct {
	VisibilityTimeout time.Duration
	MaxReceives       int
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Queue is safe for concurrent use.
type Queue struct {
	db          *sql.DB
	visibility  time.Duration
	maxReceives int
	now         func() time.Time
}

// New returns a Queue backed by db.
func New(db *sql.DB, opts Options) *Queue {
	q := &Queue{
		db:          db,
		visibility:  opts.VisibilityTimeout,
		maxReceives: opts.MaxReceives,
		now:         opts.Now,
	}
	if q.visibility <= 0 {
		q.visibility = DefaultVisibilityTimeout
	}
	if q.maxReceives <= 0 {
		q.maxReceives = DefaultMaxReceives
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Enqueue appends body to group. It returns false without error when a
// message with the same dedupID is already known.
func (q *Queue) Enqueue(ctx context.Context, groupID, dedupID string, body []byte) (bool, error) {
	if groupID == "" || dedupID == "" {
		return false, fmt.Errorf("queue: enqueue: group and dedup id are required")
	}
	now := q.now().UnixNano()
	res, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO queue_messages
			(group_id, dedup_id, body, status, receive_count, visible_at, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`, groupID, dedupID, string(body), statusPending, now, now, now)
	if err != nil {
		return false, fmt.Errorf("queue: enqueue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue: enqueue: %w", err)
	}
	return n == 1, nil
}

// Receive returns the next deliverable message, or nil when none is ready.
// The message stays hidden for the visibility timeout.
func (q *Queue) Receive(ctx context.Context) (*Message, error) {
	for {
		msg, retry, err := q.receiveOnce(ctx)
		if err != nil || !retry {
			return msg, err
		}
	}
}

// receiveOnce claims the head of the oldest ready group. retry is true when
// the candidate was dead-lettered instead and the caller should look again.
func (q *Queue) receiveOnce(ctx context.Context) (msg *Message, retry bool, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("queue: receive: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := q.now()
	var (
		m          Message
		body       string
		enqueuedAt int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT m.id, m.group_id, m.dedup_id, m.body, m.receive_count, m.enqueued_at
		FROM queue_messages m
		WHERE m.status IN ('pending', 'inflight')
		  AND m.visible_at <= ?
		  AND m.id = (
			SELECT MIN(h.id) FROM queue_messages h
			WHERE h.group_id = m.group_id AND h.status IN ('pending', 'inflight')
		  )
		ORDER BY m.id
		LIMIT 1
	`, now.UnixNano()).Scan(&m.ID, &m.GroupID, &m.DedupID, &body, &m.ReceiveCount, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.Commit()
		if err != nil {
			return nil, false, fmt.Errorf("queue: receive: %w", err)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue: receive: %w", err)
	}

	if m.ReceiveCount >= q.maxReceives {
		_, err = tx.ExecContext(ctx,
			"UPDATE queue_messages SET status = ?, updated_at = ?, last_error = CASE WHEN last_error = '' THEN 'visibility timeout expired' ELSE last_error END WHERE id = ?",
			statusDead, now.UnixNano(), m.ID)
		if err != nil {
			return nil, false, fmt.Errorf("queue: dead-letter %d: %w", m.ID, err)
		}
		if err = tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("queue: receive: %w", err)
		}
		return nil, true, nil
	}

	m.ReceiveCount++
	_, err = tx.ExecContext(ctx, `
		UPDATE queue_messages
		SET status = ?, receive_count = ?, visible_at = ?, updated_at = ?
		WHERE id = ?
	`, statusInflight, m.ReceiveCount, now.Add(q.visibility).UnixNano(), now.UnixNano(), m.ID)
	if err != nil {
		return nil, false, fmt.Errorf("queue: claim %d: %w", m.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("queue: receive: %w", err)
	}

	m.Body = []byte(body)
	m.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return &m, false, nil
}

// Ack marks msg as processed. The row is kept for the dedup window.
func (q *Queue) Ack(ctx context.Context, msg *Message) error {
	return q.finish(ctx, msg, statusDone, q.now(), "")
}

// Release makes msg visible again after delay. When msg has already been
// delivered MaxReceives times it is moved to the dead state instead.
func (q *Queue) Release(ctx context.Context, msg *Message, delay time.Duration, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if msg.ReceiveCount >= q.maxReceives {
		return q.finish(ctx, msg, statusDead, q.now(), reason)
	}
	return q.finish(ctx, msg, statusPending, q.now().Add(delay), reason)
}

func (q *Queue) finish(ctx context.Context, msg *Message, status string, visibleAt time.Time, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET status = ?, visible_at = ?, updated_at = ?, last_error = ?
		WHERE id = ? AND status = ? AND receive_count = ?
	`, status, visibleAt.UnixNano(), q.now().UnixNano(), reason, msg.ID, statusInflight, msg.ReceiveCount)
	if err != nil {
		return fmt.Errorf("queue: %s %d: %w", status, msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: %s %d: %w", status, msg.ID, err)
	}
	if n == 0 {
		return ErrNotInflight
	}
	return nil
}

// Stats is a snapshot of queue depth by state.
type Stats struct {
	Pending  int `json:"pending"`
	Inflight int `json:"inflight"`
	Dead     int `json:"dead"`
}

// Stats counts messages per state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM queue_messages WHERE status != ? GROUP BY status", statusDone)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("queue: stats: %w", err)
		}
		switch status {
		case statusPending:
			s.Pending = n
		case statusInflight:
			s.Inflight = n
		case statusDead:
			s.Dead = n
		}
	}
	return s, rows.Err()
}

// PurgeDone deletes acknowledged messages older than window. Dead messages
// are kept for inspection.
func (q *Queue) PurgeDone(ctx context.Context, window time.Duration) (int64, error) {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	cutoff := q.now().Add(-window).UnixNano()
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM queue_messages WHERE status = ? AND updated_at < ?", statusDone, cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}
	return res.RowsAffected()
}
