package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/chat"
)

// Gateway bounds provider calls with a timeout.
type Gateway struct {
	provider Provider
}

// NewGateway wraps provider.
func NewGateway(provider Provider) *Gateway {
	return &Gateway{provider: provider}
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() Provider { return g.provider }

type callResult struct {
	completion *Completion
	err        error
}

// Send delivers req to the provider and waits at most timeout for the answer.
//
// It returns ErrNotSent without calling the provider when req is not
// sendable, *TimeoutError when the budget is exhausted, and ErrEmptyResponse
// (together with the completion) when the answer has no text. The provider
// runs in its own goroutine; on timeout its context is cancelled and any late
// result is dropped into a buffered channel nobody reads.
func (g *Gateway) Send(ctx context.Context, req *chat.Request, timeout time.Duration) (*Completion, error) {
	if !req.Sendable() {
		return nil, ErrNotSent
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	creq := CompletionRequest{Model: req.Model(), Messages: req.Messages()}
	go func() {
		c, err := g.provider.Complete(callCtx, creq)
		done <- callResult{completion: c, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &TimeoutError{Timeout: timeout}
			}
			return nil, res.err
		}
		if res.completion == nil || strings.TrimSpace(res.completion.Content) == "" {
			return res.completion, ErrEmptyResponse
		}
		return res.completion, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{Timeout: timeout}
	}
}
