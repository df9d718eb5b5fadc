package pipeline

import (
	"context"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/store"
)

// ExchangeFinder runs exchange queries.
type ExchangeFinder interface {
	FindExchanges(ctx context.Context, q store.Query) ([]*store.Exchange, error)
}

// DedupGate finds a recent exchange for an identical request.
//
// Only the most recent exchange with the fingerprint is considered. The gate
// is not a lock: two identical requests racing each other can both miss.
type DedupGate struct {
	finder  ExchangeFinder
	horizon time.Duration
}

// NewDedupGate returns a gate that accepts matches newer than now - horizon.
func NewDedupGate(finder ExchangeFinder, horizon time.Duration) *DedupGate {
	return &DedupGate{finder: finder, horizon: horizon}
}

// Lookup returns the most recent exchange with fingerprint when it was
// created strictly after now - horizon, otherwise nil.
func (g *DedupGate) Lookup(ctx context.Context, fingerprint string, now time.Time) (*store.Exchange, error) {
	found, err := g.finder.FindExchanges(ctx,
		store.NewQuery(store.ByFingerprint, fingerprint, store.CompareNone, "", "", 1, true))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	if !found[0].CreatedAt.After(now.Add(-g.horizon)) {
		return nil, nil
	}
	return found[0], nil
}
