// Package llm sends assembled chat requests to a completion provider under a
// timeout and classifies the outcome.
//
// Two providers are available, OpenAI chat completions and Anthropic
// messages. Both capture the raw response payload verbatim so it can be
// stored alongside the request it answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/chat"
)

// ErrRateLimit is returned by a Provider when the upstream API reports a
// rate-limiting condition (HTTP 429).
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// ErrEmptyResponse is returned by Gateway.Send when the provider answered but
// the answer carries no usable text. The completion is returned with it.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrNotSent is returned by Gateway.Send when the request is not sendable.
// No network call was made.
var ErrNotSent = errors.New("llm: request not sendable")

// TimeoutError is returned when the provider did not answer within the
// configured budget. The in-flight call is abandoned.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llm: request timed out after %s", e.Timeout)
}

// CompletionRequest is the provider-neutral input of one call.
type CompletionRequest struct {
	Model    string
	Messages []chat.Message
}

// Completion is a provider answer.
type Completion struct {
	// Content is the text of the first choice, "" when there is none.
	Content string
	// Raw is the response payload exactly as received.
	Raw []byte
}

// Provider performs one completion call.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
