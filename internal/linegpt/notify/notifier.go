// Package notify posts operator notices for events that need a human look:
// LLM timeouts and failures, dead-lettered queue messages and replies that
// could not be delivered.
//
// Notices never carry message text. Conversation and user IDs are masked.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/linegpt/common/redact"
	"github.com/bdobrica/linegpt/common/retry"
	"github.com/bdobrica/linegpt/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindLLMTimeout  Kind = "llm.timeout"
	KindLLMFailed   Kind = "llm.failed"
	KindDeadLetter  Kind = "queue.dead_letter"
	KindReplyFailed Kind = "line.reply_failed"
	KindError       Kind = "error"
)

// Event carries the data a Notifier formats and sends.
type Event struct {
	Kind Kind
	// ConversationID is masked before sending.
	ConversationID string
	Message        string
	// TraceID defaults to the trace in the context.
	TraceID string
	// Timestamp defaults to time.Now().
	Timestamp time.Time
}

// Notifier sends operator notices. Send failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sender is the subset of the Matrix client the notifier needs.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// MatrixNotifier posts formatted notices to a Matrix room.
type MatrixNotifier struct {
	sender  Sender
	roomID  string
	timeout time.Duration
	retry   retry.Config
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	return &MatrixNotifier{
		sender:  sender,
		roomID:  roomID,
		timeout: 10 * time.Second,
		retry:   retry.Config{MaxAttempts: 2, InitialDelay: 500 * time.Millisecond, Name: "matrix.notice"},
	}
}

// Notify formats evt and posts it. The caller is blocked for at most a few
// seconds.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}
	msg := Format(ctx, evt)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	err := retry.Do(sendCtx, n.retry, func() error {
		return n.sender.SendNotice(sendCtx, n.roomID, msg)
	})
	if err != nil {
		slog.Warn("notify: failed to send room notice", "room", n.roomID, "kind", evt.Kind, "err", err)
		return
	}
	slog.Debug("notify: sent notice", "room", n.roomID, "kind", evt.Kind)
}

// Format renders evt as a short plain-text notice.
func Format(ctx context.Context, evt Event) string {
	tid := evt.TraceID
	if tid == "" {
		tid = trace.FromContext(ctx)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", kindIcon(evt.Kind), evt.Kind, evt.Message)
	if evt.ConversationID != "" {
		fmt.Fprintf(&b, "\n  conversation: %s", redact.MaskUserID(evt.ConversationID))
	}
	if tid != "" {
		fmt.Fprintf(&b, "\n  trace: %s", tid)
	}
	fmt.Fprintf(&b, "\n  at: %s", evt.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

// Noop is used when notices are disabled.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(_ context.Context, _ Event) {}

func kindIcon(k Kind) string {
	switch k {
	case KindLLMTimeout:
		return "⏱️"
	case KindLLMFailed:
		return "🚨"
	case KindDeadLetter:
		return "🪦"
	case KindReplyFailed:
		return "📭"
	case KindError:
		return "❌"
	default:
		return "ℹ️"
	}
}
