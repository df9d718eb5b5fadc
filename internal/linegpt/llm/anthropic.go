package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bdobrica/linegpt/internal/linegpt/chat"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicConfig configures the Anthropic messages provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	// MaxTokens bounds the reply length; the messages API requires it.
	MaxTokens  int
	HTTPClient *http.Client
}

type anthropicProvider struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropic returns a Provider backed by the Anthropic messages API.
func NewAnthropic(cfg AnthropicConfig) Provider {
	opts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		aoption.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, aoption.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, aoption.WithHTTPClient(cfg.HTTPClient))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...), maxTokens: int64(maxTokens)}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

// Complete lifts system entries into the system field, since the messages
// API only accepts user and assistant turns.
func (p *anthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: p.maxTokens,
	}
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
			}
		case chat.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("llm: anthropic: %w", ErrRateLimit)
		}
		return nil, fmt.Errorf("llm: anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Completion{Content: text.String(), Raw: []byte(msg.RawJSON())}, nil
}
