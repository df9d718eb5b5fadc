package app

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bdobrica/linegpt/common/spec/envelope"
	"github.com/bdobrica/linegpt/common/trace"
	"github.com/bdobrica/linegpt/internal/linegpt/notify"
	"github.com/bdobrica/linegpt/internal/linegpt/observability"
	"github.com/bdobrica/linegpt/internal/linegpt/queue"
)

// MessageQueue is the consumer side of the event queue.
type MessageQueue interface {
	Receive(ctx context.Context) (*queue.Message, error)
	Ack(ctx context.Context, msg *queue.Message) error
	Release(ctx context.Context, msg *queue.Message, delay time.Duration, cause error) error
}

// EventHandler processes one envelope.
type EventHandler interface {
	Handle(ctx context.Context, env *envelope.Envelope) error
}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	// Concurrency is the number of events processed at once. Events of one
	// conversation are still handled one at a time by the queue.
	Concurrency int
	// PollInterval is the wait after finding the queue empty.
	PollInterval time.Duration
	// RetryDelay is multiplied by the receive count to delay a failed event.
	RetryDelay time.Duration
	// MaxReceives mirrors the queue setting; the last failed delivery is
	// reported as dead-lettered.
	MaxReceives int
}

// Worker drains the queue into an EventHandler.
type Worker struct {
	queue    MessageQueue
	handler  EventHandler
	notifier notify.Notifier
	cfg      WorkerConfig
}

// NewWorker creates a Worker. A nil notifier disables notices.
func NewWorker(q MessageQueue, h EventHandler, n notify.Notifier, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.MaxReceives <= 0 {
		cfg.MaxReceives = queue.DefaultMaxReceives
	}
	if n == nil {
		n = notify.Noop{}
	}
	return &Worker{queue: q, handler: h, notifier: n, cfg: cfg}
}

// Run processes messages until ctx is cancelled, then waits for in-flight
// messages to finish.
func (w *Worker) Run(ctx context.Context) error {
	slots := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("worker started", "concurrency", w.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping")
			return nil
		case slots <- struct{}{}:
		}

		msg, err := w.queue.Receive(ctx)
		if err != nil || msg == nil {
			<-slots
			if err != nil && ctx.Err() == nil {
				slog.Error("worker: receive failed", "err", err)
			}
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				slog.Info("worker stopping")
				return nil
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.process(ctx, msg)
		}()
	}
}

// process handles one message and settles it with the queue. Settling uses a
// context that survives shutdown so a finished event is not redelivered.
func (w *Worker) process(ctx context.Context, msg *queue.Message) {
	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx).With("queue_id", msg.ID, "receive_count", msg.ReceiveCount)
	settleCtx := context.WithoutCancel(ctx)

	env, err := envelope.Parse(msg.Body)
	if err != nil {
		logger.Error("worker: dropping malformed message", "err", err)
		w.notifier.Notify(ctx, notify.Event{Kind: notify.KindDeadLetter, Message: fmt.Sprintf("malformed queue message %d: %v", msg.ID, err)})
		if err := w.queue.Ack(settleCtx, msg); err != nil {
			logger.Warn("worker: ack failed", "err", err)
		}
		return
	}

	if err := w.handle(ctx, env); err != nil {
		logger.Error("worker: event failed", "err", err, "event_type", env.EventType)
		if msg.ReceiveCount >= w.cfg.MaxReceives {
			w.notifier.Notify(ctx, notify.Event{
				Kind:           notify.KindDeadLetter,
				ConversationID: env.LineEvent.ConversationID(),
				Message:        fmt.Sprintf("%s event dead-lettered after %d attempts: %v", env.EventType, msg.ReceiveCount, err),
			})
		}
		delay := w.cfg.RetryDelay * time.Duration(msg.ReceiveCount)
		if err := w.queue.Release(settleCtx, msg, delay, err); err != nil {
			logger.Warn("worker: release failed", "err", err)
		}
		return
	}

	if err := w.queue.Ack(settleCtx, msg); err != nil {
		logger.Warn("worker: ack failed", "err", err)
	}
}

func (w *Worker) handle(ctx context.Context, env *envelope.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker: handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, env)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
