// Package webhook receives LINE webhook deliveries.
//
//	POST /callback
//
// The X-Line-Signature header is verified against the channel secret, each
// event is turned into a queue envelope and enqueued with the conversation ID
// as its ordering group. Quick reply postbacks are acknowledged directly.
// The handler answers 200 once every event is enqueued; LINE redelivers on
// any other status.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/bdobrica/linegpt/common/redact"
	"github.com/bdobrica/linegpt/common/spec/envelope"
	"github.com/bdobrica/linegpt/internal/linegpt/line"
	"github.com/bdobrica/linegpt/internal/linegpt/observability"
)

// DefaultRateLimit is the default number of events accepted per conversation
// per minute.
const DefaultRateLimit = 60

const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

// Enqueuer is the queue side the receiver needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, groupID, dedupID string, body []byte) (bool, error)
}

// Replier answers postbacks.
type Replier interface {
	ReplyText(ctx context.Context, replyToken, text string) error
}

// Config holds options for creating a Receiver.
type Config struct {
	ChannelSecret string
	// RateLimit is the number of events accepted per conversation per
	// minute. Defaults to DefaultRateLimit when zero or negative.
	RateLimit int
}

// Receiver handles POST /callback.
type Receiver struct {
	secret  string
	queue   Enqueuer
	replier Replier
	limiter *rateLimiter
}

// New creates a Receiver. replier may be nil, in which case postbacks are
// ignored.
func New(q Enqueuer, replier Replier, cfg Config) *Receiver {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &Receiver{
		secret:  cfg.ChannelSecret,
		queue:   q,
		replier: replier,
		limiter: newRateLimiter(limit, time.Minute),
	}
}

// RouteRegistrar is satisfied by *http.ServeMux and app.HealthServer.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// RegisterRoutes mounts the callback handler.
func (rc *Receiver) RegisterRoutes(r RouteRegistrar) {
	r.Handle("/callback", http.HandlerFunc(rc.handleCallback))
}

func (rc *Receiver) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	cb, err := webhook.ParseRequest(rc.secret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			slog.Info("webhook: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		slog.Warn("webhook: failed to parse request", "err", redact.UserIDs(err.Error()))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, ev := range cb.Events {
		if pb, ok := ev.(webhook.PostbackEvent); ok {
			rc.handlePostback(ctx, pb)
			continue
		}
		env, ok := toEnvelope(ev)
		if !ok {
			slog.Debug("webhook: skipping unsupported event", "type", ev.GetType())
			continue
		}
		if err := rc.enqueue(ctx, env); err != nil {
			observability.WithTrace(ctx).Error("webhook: enqueue failed", "err", err)
			http.Error(w, "failed to enqueue event", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (rc *Receiver) enqueue(ctx context.Context, env *envelope.Envelope) error {
	ev := env.LineEvent
	group := ev.ConversationID()
	if group == "" {
		group = envelope.DefaultConversationID
	}
	logger := observability.WithEvent(ctx, group, ev.UserID()).With("event_type", env.EventType)

	if !rc.limiter.Allow(group) {
		logger.Warn("webhook: rate limit exceeded, dropping event")
		return nil
	}

	dedupID := ev.WebhookEventID
	if dedupID == "" {
		dedupID = uuid.NewString()
	}
	body, err := envelope.Marshal(env)
	if err != nil {
		return err
	}
	added, err := rc.queue.Enqueue(ctx, group, dedupID, body)
	if err != nil {
		return err
	}
	if !added {
		logger.Info("webhook: duplicate delivery ignored", "webhook_event_id", dedupID)
		return nil
	}
	logger.Debug("webhook: event enqueued", "webhook_event_id", dedupID)
	return nil
}

func (rc *Receiver) handlePostback(ctx context.Context, pb webhook.PostbackEvent) {
	if rc.replier == nil || pb.Postback == nil {
		return
	}
	text, ok := line.PostbackReply(pb.Postback.Data)
	if !ok {
		slog.Debug("webhook: ignoring postback")
		return
	}
	if err := rc.replier.ReplyText(ctx, pb.ReplyToken, text); err != nil {
		slog.Warn("webhook: postback reply failed", "err", err)
	}
}
