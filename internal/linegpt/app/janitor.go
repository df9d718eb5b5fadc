package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/store"
)

// historyPurger deletes stored turns and exchanges.
type historyPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (store.PurgeResult, error)
}

// queuePurger deletes acknowledged queue messages.
type queuePurger interface {
	PurgeDone(ctx context.Context, window time.Duration) (int64, error)
}

// Janitor periodically removes history older than the keep window and
// acknowledged queue messages past their dedup window.
type Janitor struct {
	history  historyPurger
	queue    queuePurger
	keep     time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewJanitor creates a Janitor. keep <= 0 disables history purging.
func NewJanitor(h historyPurger, q queuePurger, keep, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{history: h, queue: q, keep: keep, interval: interval, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one purge pass. Failures are logged.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.history != nil && j.keep > 0 {
		res, err := j.history.PurgeBefore(ctx, j.now().Add(-j.keep))
		if err != nil {
			slog.Warn("janitor: purge history", "err", err)
		} else if res.Turns+res.Exchanges > 0 {
			slog.Info("janitor: purged history", "turns", res.Turns, "exchanges", res.Exchanges)
		}
	}
	if j.queue != nil {
		n, err := j.queue.PurgeDone(ctx, 0)
		if err != nil {
			slog.Warn("janitor: purge queue", "err", err)
		} else if n > 0 {
			slog.Debug("janitor: purged queue", "messages", n)
		}
	}
}
