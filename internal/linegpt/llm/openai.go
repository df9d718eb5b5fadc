package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/bdobrica/linegpt/internal/linegpt/chat"
)

// OpenAIConfig configures the OpenAI chat completions provider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint. Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	BaseURL string
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

type openAIProvider struct {
	client openai.Client
}

// NewOpenAI returns a Provider backed by the OpenAI (or compatible) chat API.
// The SDK's own retries are disabled: a call is attempted once and the
// gateway records whatever happened.
func NewOpenAI(cfg OpenAIConfig) Provider {
	opts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		ooption.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, ooption.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, ooption.WithHTTPClient(cfg.HTTPClient))
	}
	return &openAIProvider{client: openai.NewClient(opts...)}
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case chat.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("llm: openai: %w", ErrRateLimit)
		}
		return nil, fmt.Errorf("llm: openai: %w", err)
	}

	c := &Completion{Raw: []byte(resp.RawJSON())}
	if len(resp.Choices) > 0 {
		c.Content = resp.Choices[0].Message.Content
	}
	return c, nil
}
