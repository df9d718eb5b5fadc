package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/queue"
	"github.com/bdobrica/linegpt/internal/linegpt/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, maxReceives int) (*queue.Queue, *fakeClock) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	q := queue.New(s.DB(), queue.Options{
		VisibilityTimeout: time.Minute,
		MaxReceives:       maxReceives,
		Now:               clock.Now,
	})
	return q, clock
}

func mustEnqueue(t *testing.T, q *queue.Queue, group, dedup, body string) {
	t.Helper()
	ok, err := q.Enqueue(context.Background(), group, dedup, []byte(body))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !ok {
		t.Fatalf("Enqueue(%s): unexpectedly deduplicated", dedup)
	}
}

func mustReceive(t *testing.T, q *queue.Queue) *queue.Message {
	t.Helper()
	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return msg
}

func TestEnqueue_Dedup(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	mustEnqueue(t, q, "G1", "evt-1", "a")

	ok, err := q.Enqueue(context.Background(), "G1", "evt-1", []byte("a again"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ok {
		t.Fatal("expected duplicate dedup id to be ignored")
	}
}

func TestReceive_FIFOPerGroup(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()
	mustEnqueue(t, q, "G1", "1", "g1-first")
	mustEnqueue(t, q, "G1", "2", "g1-second")
	mustEnqueue(t, q, "G2", "3", "g2-first")

	first := mustReceive(t, q)
	if first == nil || string(first.Body) != "g1-first" {
		t.Fatalf("expected g1-first, got %+v", first)
	}

	// G1 is blocked while its head is in flight, so G2 is next.
	second := mustReceive(t, q)
	if second == nil || string(second.Body) != "g2-first" {
		t.Fatalf("expected g2-first, got %+v", second)
	}
	if none := mustReceive(t, q); none != nil {
		t.Fatalf("expected nothing ready, got %s", none.Body)
	}

	if err := q.Ack(ctx, first); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	third := mustReceive(t, q)
	if third == nil || string(third.Body) != "g1-second" {
		t.Fatalf("expected g1-second, got %+v", third)
	}
}

func TestRelease_RedeliversAfterDelay(t *testing.T) {
	q, clock := newTestQueue(t, 3)
	ctx := context.Background()
	mustEnqueue(t, q, "G1", "1", "body")

	msg := mustReceive(t, q)
	if err := q.Release(ctx, msg, 10*time.Second, errors.New("store down")); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := mustReceive(t, q); got != nil {
		t.Fatal("message visible before its delay elapsed")
	}

	clock.Advance(11 * time.Second)
	again := mustReceive(t, q)
	if again == nil || again.ID != msg.ID || again.ReceiveCount != 2 {
		t.Fatalf("expected redelivery with count 2, got %+v", again)
	}
}

func TestVisibilityTimeout_Redelivers(t *testing.T) {
	q, clock := newTestQueue(t, 3)
	mustEnqueue(t, q, "G1", "1", "body")

	first := mustReceive(t, q)
	clock.Advance(2 * time.Minute)
	second := mustReceive(t, q)
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected redelivery after visibility timeout, got %+v", second)
	}

	// The stale holder can no longer acknowledge.
	if err := q.Ack(context.Background(), first); !errors.Is(err, queue.ErrNotInflight) {
		t.Fatalf("expected ErrNotInflight, got %v", err)
	}
	if err := q.Ack(context.Background(), second); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestMaxReceives_DeadLetters(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()
	mustEnqueue(t, q, "G1", "1", "poison")
	mustEnqueue(t, q, "G1", "2", "next")

	for i := 0; i < 2; i++ {
		msg := mustReceive(t, q)
		if msg == nil || string(msg.Body) != "poison" {
			t.Fatalf("attempt %d: expected poison, got %+v", i+1, msg)
		}
		if err := q.Release(ctx, msg, 0, errors.New("boom")); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	next := mustReceive(t, q)
	if next == nil || string(next.Body) != "next" {
		t.Fatalf("expected group to advance past dead message, got %+v", next)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Dead != 1 || stats.Inflight != 1 || stats.Pending != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPurgeDone_KeepsDedupWithinWindow(t *testing.T) {
	q, clock := newTestQueue(t, 3)
	ctx := context.Background()
	mustEnqueue(t, q, "G1", "evt", "body")
	if err := q.Ack(ctx, mustReceive(t, q)); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	if n, err := q.PurgeDone(ctx, 5*time.Minute); err != nil || n != 0 {
		t.Fatalf("PurgeDone inside window: n=%d err=%v", n, err)
	}
	if ok, _ := q.Enqueue(ctx, "G1", "evt", []byte("body")); ok {
		t.Fatal("dedup id should still be known inside the window")
	}

	clock.Advance(6 * time.Minute)
	if n, err := q.PurgeDone(ctx, 5*time.Minute); err != nil || n != 1 {
		t.Fatalf("PurgeDone after window: n=%d err=%v", n, err)
	}
	if ok, err := q.Enqueue(ctx, "G1", "evt", []byte("body")); err != nil || !ok {
		t.Fatalf("expected enqueue after purge, ok=%v err=%v", ok, err)
	}
}
