// Package pipeline turns one inbound LINE text message into a reply.
//
// For every message it records the turn, rebuilds the conversation from the
// most recent exchange inside the lookback horizon, assembles a token-bounded
// request, reuses a recent identical exchange when there is one and otherwise
// calls the LLM. Every call attempt, including timeouts and empty answers, is
// stored as an exchange. Timeouts and empty answers are normal outcomes with
// a user-visible text; only validation and storage failures are errors.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tidwall/sjson"

	"github.com/bdobrica/linegpt/common/spec/envelope"
	"github.com/bdobrica/linegpt/internal/linegpt/chat"
	"github.com/bdobrica/linegpt/internal/linegpt/llm"
	"github.com/bdobrica/linegpt/internal/linegpt/observability"
	"github.com/bdobrica/linegpt/internal/linegpt/store"
)

// Store is the persistence the pipeline needs.
type Store interface {
	ExchangeFinder
	SaveTurn(ctx context.Context, t *store.ConversationTurn) error
	SaveExchange(ctx context.Context, e *store.Exchange) error
}

// Sender delivers an assembled request to the LLM.
type Sender interface {
	Send(ctx context.Context, req *chat.Request, timeout time.Duration) (*llm.Completion, error)
}

// Outcome is the terminal state of one ProcessText run.
type Outcome string

const (
	OutcomeNotSent  Outcome = "not_sent"
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeSuccess  Outcome = "success"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeEmpty    Outcome = "empty"
	// OutcomeFailed is a provider error other than a timeout. It is stored
	// and answered like a timeout.
	OutcomeFailed Outcome = "failed"
)

// Result describes what ProcessText did.
type Result struct {
	Outcome Outcome
	// Exchange is the stored (or reused) exchange; nil for OutcomeNotSent.
	Exchange *store.Exchange
	// ReplyText is the text to send back; "" when there is nothing to say.
	ReplyText string
	// Err is the provider error behind OutcomeTimeout or OutcomeFailed.
	Err error
}

// Config holds the assembly and call settings.
type Config struct {
	Model          string
	MaxTokens      int
	SystemPrompt   string
	Timeout        time.Duration
	TimeoutMessage string
	// Horizon is the lookback window for history and deduplication.
	Horizon time.Duration
}

// Pipeline processes text messages. Safe for concurrent use.
type Pipeline struct {
	store   Store
	counter chat.TokenCounter
	sender  Sender
	dedup   *DedupGate
	cfg     Config
	now     func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New wires a Pipeline.
func New(st Store, counter chat.TokenCounter, sender Sender, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   st,
		counter: counter,
		sender:  sender,
		dedup:   NewDedupGate(st, cfg.Horizon),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessText handles a text message event.
func (p *Pipeline) ProcessText(ctx context.Context, ev *envelope.LineEvent) (*Result, error) {
	logger := observability.WithEvent(ctx, ev.ConversationID(), ev.UserID())
	now := p.now()

	turn := &store.ConversationTurn{
		ConversationID: ev.ConversationID(),
		AuthorID:       ev.UserID(),
		Text:           ev.Text(),
		CreatedAt:      now,
	}
	if err := p.store.SaveTurn(ctx, turn); err != nil {
		return nil, err
	}

	history, err := p.history(ctx, logger, turn.ConversationID, now)
	if err != nil {
		return nil, err
	}

	req, err := chat.NewRequest(p.counter, chat.Options{
		Model:        p.cfg.Model,
		MaxTokens:    p.cfg.MaxTokens,
		SystemPrompt: p.cfg.SystemPrompt,
		Logger:       logger,
	}, turn.Text, history)
	if err != nil {
		return nil, err
	}
	if !req.Sendable() {
		logger.Info("request not sendable", "entries", len(req.Messages()))
		return &Result{Outcome: OutcomeNotSent}, nil
	}

	canonical, err := chat.Canonicalize(req.Messages())
	if err != nil {
		return nil, err
	}
	fingerprint := chat.FingerprintBytes(canonical)

	hit, err := p.dedup.Lookup(ctx, fingerprint, now)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		logger.Info("reusing recent identical exchange", "fingerprint", fingerprint, "created_at", store.FormatTime(hit.CreatedAt))
		return &Result{Outcome: OutcomeCacheHit, Exchange: hit, ReplyText: llm.ResponseText(hit.ResponseBody)}, nil
	}

	res := &Result{}
	var responseBody string
	completion, err := p.sender.Send(ctx, req, p.cfg.Timeout)
	var timeoutErr *llm.TimeoutError
	switch {
	case err == nil:
		res.Outcome = OutcomeSuccess
		responseBody = rawBody(completion)
	case errors.Is(err, llm.ErrEmptyResponse):
		res.Outcome = OutcomeEmpty
		responseBody = llm.ErrorBody(llm.EmptyResponseMessage)
	case errors.Is(err, llm.ErrNotSent):
		return &Result{Outcome: OutcomeNotSent}, nil
	case errors.As(err, &timeoutErr):
		logger.Warn("llm request timed out", "timeout", p.cfg.Timeout)
		res.Outcome, res.Err = OutcomeTimeout, err
		responseBody = llm.ErrorBody(p.cfg.TimeoutMessage)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		logger.Error("llm request failed", "err", err)
		res.Outcome, res.Err = OutcomeFailed, err
		responseBody = llm.ErrorBody(p.cfg.TimeoutMessage)
	}

	exchange := &store.Exchange{
		ConversationID: turn.ConversationID,
		AuthorID:       turn.AuthorID,
		Fingerprint:    fingerprint,
		RequestBody:    string(canonical),
		ResponseBody:   responseBody,
		CreatedAt:      p.now(),
	}
	if err := p.store.SaveExchange(ctx, exchange); err != nil {
		return nil, err
	}
	logger.Info("exchange recorded", "outcome", res.Outcome, "fingerprint", fingerprint, "tokens", req.UsedTokens())

	res.Exchange = exchange
	res.ReplyText = llm.ResponseText(responseBody)
	return res, nil
}

// history loads the most recent exchange of the conversation inside the
// horizon and turns it into assembler input.
func (p *Pipeline) history(ctx context.Context, logger *slog.Logger, conversationID string, now time.Time) ([]chat.HistoryEntry, error) {
	from := store.FormatTime(now.Add(-p.cfg.Horizon))
	prev, err := p.store.FindExchanges(ctx,
		store.NewQuery(store.ByConversation, conversationID, store.CompareGE, from, "", 1, true))
	if err != nil {
		return nil, err
	}
	if len(prev) == 0 {
		return nil, nil
	}

	reply, _ := llm.ReplyContent(prev[0].ResponseBody)
	history, err := chat.HistoryFromExchange(prev[0].RequestBody, reply)
	if err != nil {
		logger.Warn("ignoring unreadable history", "err", err)
		return nil, nil
	}
	return history, nil
}

// rawBody returns the provider payload, synthesizing a minimal chat
// completion document when the provider gave none.
func rawBody(c *llm.Completion) string {
	if c != nil && len(c.Raw) > 0 {
		return string(c.Raw)
	}
	content := ""
	if c != nil {
		content = c.Content
	}
	body, _ := sjson.Set(`{"choices":[{"message":{"role":"assistant"}}]}`, "choices.0.message.content", content)
	return body
}
