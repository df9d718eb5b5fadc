// Package dispatch routes queued LINE events to their handlers.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/bdobrica/linegpt/common/spec/envelope"
	"github.com/bdobrica/linegpt/internal/linegpt/line"
	"github.com/bdobrica/linegpt/internal/linegpt/notify"
	"github.com/bdobrica/linegpt/internal/linegpt/observability"
	"github.com/bdobrica/linegpt/internal/linegpt/pipeline"
)

// TextProcessor answers text messages.
type TextProcessor interface {
	ProcessText(ctx context.Context, ev *envelope.LineEvent) (*pipeline.Result, error)
}

// Replier sends replies to LINE.
type Replier interface {
	ReplyText(ctx context.Context, replyToken, text string) error
	ReplySticker(ctx context.Context, replyToken, packageID, stickerID string) error
}

// Config configures a Dispatcher.
type Config struct {
	// StickerDelay is the pause before answering a non-text message.
	StickerDelay time.Duration
	// StickerPackageID and StickerID default to the line package defaults.
	StickerPackageID string
	StickerID        string
}

// Dispatcher handles one envelope at a time. Safe for concurrent use.
type Dispatcher struct {
	text     TextProcessor
	replier  Replier
	notifier notify.Notifier
	cfg      Config
}

// New wires a Dispatcher. A nil notifier disables operator notices.
func New(text TextProcessor, replier Replier, notifier notify.Notifier, cfg Config) *Dispatcher {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if cfg.StickerPackageID == "" {
		cfg.StickerPackageID = line.DefaultStickerPackageID
	}
	if cfg.StickerID == "" {
		cfg.StickerID = line.DefaultStickerID
	}
	return &Dispatcher{text: text, replier: replier, notifier: notifier, cfg: cfg}
}

// Handle processes env.
//
// Returned errors come from validation or storage and mean the event may be
// retried. Reply delivery failures are logged and notified but not returned:
// by then the exchange is recorded and the reply token is likely spent.
func (d *Dispatcher) Handle(ctx context.Context, env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	ev := env.LineEvent
	logger := observability.WithEvent(ctx, ev.ConversationID(), ev.UserID()).With("event_type", env.EventType)

	switch {
	case env.EventType == envelope.TypeTextMessage:
		return d.handleText(ctx, ev)
	case env.EventType.IsMessage():
		return d.handleOtherMessage(ctx, ev)
	case env.EventType.IsLifecycle():
		logger.Info("lifecycle event")
		return nil
	default:
		logger.Warn("ignoring unknown event type")
		return nil
	}
}

func (d *Dispatcher) handleText(ctx context.Context, ev *envelope.LineEvent) error {
	logger := observability.WithEvent(ctx, ev.ConversationID(), ev.UserID())

	res, err := d.text.ProcessText(ctx, ev)
	if err != nil {
		return fmt.Errorf("dispatch: process text: %w", err)
	}

	switch res.Outcome {
	case pipeline.OutcomeTimeout:
		d.notifier.Notify(ctx, notify.Event{
			Kind:           notify.KindLLMTimeout,
			ConversationID: ev.ConversationID(),
			Message:        fmt.Sprintf("LLM request timed out: %v", res.Err),
		})
	case pipeline.OutcomeFailed:
		d.notifier.Notify(ctx, notify.Event{
			Kind:           notify.KindLLMFailed,
			ConversationID: ev.ConversationID(),
			Message:        fmt.Sprintf("LLM request failed: %v", res.Err),
		})
	}

	if res.ReplyText == "" {
		logger.Info("nothing to reply", "outcome", res.Outcome)
		return nil
	}
	if err := d.replier.ReplyText(ctx, ev.ReplyToken, res.ReplyText); err != nil {
		d.replyFailed(ctx, ev, err)
	}
	return nil
}

func (d *Dispatcher) handleOtherMessage(ctx context.Context, ev *envelope.LineEvent) error {
	if d.cfg.StickerDelay > 0 {
		t := time.NewTimer(d.cfg.StickerDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := d.replier.ReplySticker(ctx, ev.ReplyToken, d.cfg.StickerPackageID, d.cfg.StickerID); err != nil {
		d.replyFailed(ctx, ev, err)
	}
	return nil
}

func (d *Dispatcher) replyFailed(ctx context.Context, ev *envelope.LineEvent, err error) {
	observability.WithEvent(ctx, ev.ConversationID(), ev.UserID()).Error("reply failed", "err", err)
	d.notifier.Notify(ctx, notify.Event{
		Kind:           notify.KindReplyFailed,
		ConversationID: ev.ConversationID(),
		Message:        err.Error(),
	})
}
