package llm_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/chat"
	"github.com/bdobrica/linegpt/internal/linegpt/llm"
)

type runeCounter struct{}

func (runeCounter) Count(_, text string) (int, error) { return len([]rune(text)), nil }

// mockProvider is a test double for llm.Provider.
type mockProvider struct {
	completion *llm.Completion
	err        error
	delay      time.Duration
	calls      atomic.Int32
	got        llm.CompletionRequest
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	m.calls.Add(1)
	m.got = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.completion, m.err
}

func newRequest(t *testing.T, userText string) *chat.Request {
	t.Helper()
	req, err := chat.NewRequest(runeCounter{}, chat.Options{
		Model:        "gpt-3.5-turbo",
		MaxTokens:    1000,
		SystemPrompt: "You are the ChatGPT.",
	}, userText, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestSend_Success(t *testing.T) {
	p := &mockProvider{completion: &llm.Completion{Content: "Hello!", Raw: []byte(`{"choices":[]}`)}}
	g := llm.NewGateway(p)

	c, err := g.Send(context.Background(), newRequest(t, "Hi, ChatGPT!"), time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.Content != "Hello!" {
		t.Errorf("Content: got %q", c.Content)
	}
	if p.got.Model != "gpt-3.5-turbo" || len(p.got.Messages) != 2 {
		t.Errorf("provider got %+v", p.got)
	}
}

func TestSend_NotSendableMakesNoCall(t *testing.T) {
	p := &mockProvider{completion: &llm.Completion{Content: "x"}}
	g := llm.NewGateway(p)

	_, err := g.Send(context.Background(), newRequest(t, ""), time.Second)
	if !errors.Is(err, llm.ErrNotSent) {
		t.Fatalf("expected ErrNotSent, got %v", err)
	}
	if p.calls.Load() != 0 {
		t.Errorf("provider called %d times", p.calls.Load())
	}
}

func TestSend_Timeout(t *testing.T) {
	p := &mockProvider{completion: &llm.Completion{Content: "late"}, delay: time.Second}
	g := llm.NewGateway(p)

	start := time.Now()
	_, err := g.Send(context.Background(), newRequest(t, "hi"), 100*time.Microsecond)
	var tErr *llm.TimeoutError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Send did not abandon the call promptly: %v", elapsed)
	}
}

func TestSend_EmptyResponse(t *testing.T) {
	for name, c := range map[string]*llm.Completion{
		"nil":   nil,
		"blank": {Content: "  \n", Raw: []byte(`{"choices":[{"message":{"content":""}}]}`)},
	} {
		t.Run(name, func(t *testing.T) {
			g := llm.NewGateway(&mockProvider{completion: c})
			got, err := g.Send(context.Background(), newRequest(t, "hi"), time.Second)
			if !errors.Is(err, llm.ErrEmptyResponse) {
				t.Fatalf("expected ErrEmptyResponse, got %v", err)
			}
			if got != c {
				t.Errorf("expected the completion to be returned")
			}
		})
	}
}

func TestSend_ProviderError(t *testing.T) {
	want := errors.New("connection refused")
	g := llm.NewGateway(&mockProvider{err: want})

	_, err := g.Send(context.Background(), newRequest(t, "hi"), time.Second)
	if !errors.Is(err, want) {
		t.Fatalf("expected provider error, got %v", err)
	}
	var tErr *llm.TimeoutError
	if errors.As(err, &tErr) {
		t.Fatal("provider error must not be reported as timeout")
	}
}

func TestSend_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := llm.NewGateway(&mockProvider{completion: &llm.Completion{Content: "x"}, delay: time.Second})

	_, err := g.Send(ctx, newRequest(t, "hi"), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
