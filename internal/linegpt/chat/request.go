// Package chat assembles the message list sent to the LLM for one inbound
// message and computes its fingerprint.
//
// A Request starts with the system prompt, appends the new user message
// (shortened if needed) and then fills the remaining token budget with
// history, newest first, so that when the budget runs out it is the oldest
// history that is dropped.
package chat

import (
	"log/slog"
	"unicode/utf8"
)

// TokenCounter counts model tokens in text.
type TokenCounter interface {
	Count(model, text string) (int, error)
}

// Message is one entry of the outbound message list. Field order matches the
// wire format of the chat completion APIs.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HistoryEntry is a stored message whose role has not been checked yet.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures request assembly.
type Options struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
	// Logger receives history warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

type entry struct {
	msg    Message
	tokens int
}

// Request is an assembled, token-bounded message list.
type Request struct {
	counter    TokenCounter
	model      string
	maxTokens  int
	usedTokens int
	entries    []entry
	trimmed    bool
}

// NewRequest assembles a request from the system prompt, the new user text
// and the history of the conversation (oldest first).
//
// The user text is shortened from the end when it does not fit: first by the
// token overshoot counted as characters, then one character at a time. The
// character-for-token cut is a heuristic and does not align with token
// boundaries. History is then added newest first until an entry does not fit,
// a system entry is met, or an entry has an unknown role; such an
// InvalidRoleError is logged and ends history inclusion only.
//
// Errors come from the token counter (e.g. an unknown model).
func NewRequest(counter TokenCounter, opts Options, userText string, history []HistoryEntry) (*Request, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Request{
		counter:   counter,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}

	sysTokens, err := counter.Count(opts.Model, opts.SystemPrompt)
	if err != nil {
		return nil, err
	}
	r.usedTokens = sysTokens
	r.entries = []entry{{msg: Message{Role: RoleSystem, Content: opts.SystemPrompt}, tokens: sysTokens}}

	if userText != "" {
		if err := r.addUserText(userText); err != nil {
			return nil, err
		}
	}

	for i := len(history) - 1; i >= 0; i-- {
		role, err := ParseRole(history[i].Role)
		if err != nil {
			logger.Warn("skipping remaining history", "err", err, "index", i)
			break
		}
		ok, err := r.AddMessage(role, history[i].Content, true)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	return r, nil
}

func (r *Request) addUserText(text string) error {
	remaining, err := r.remaining(text)
	if err != nil {
		return err
	}
	if remaining < 0 {
		text = dropLastRunes(text, -remaining)
	}
	for {
		ok, err := r.AddMessage(RoleUser, text, false)
		if err != nil {
			return err
		}
		if ok || text == "" {
			return nil
		}
		text = dropLastRunes(text, 1)
	}
}

func (r *Request) remaining(text string) (int, error) {
	n, err := r.counter.Count(r.model, text)
	if err != nil {
		return 0, err
	}
	return r.maxTokens - (r.usedTokens + n), nil
}

// AddMessage appends (or, with prepend, inserts right after the system entry)
// a message when it fits in the remaining budget. System messages are never
// accepted. It reports whether the message was added.
func (r *Request) AddMessage(role Role, content string, prepend bool) (bool, error) {
	if role == RoleSystem {
		return false, nil
	}
	n, err := r.counter.Count(r.model, content)
	if err != nil {
		return false, err
	}
	if r.usedTokens+n > r.maxTokens {
		return false, nil
	}

	e := entry{msg: Message{Role: role, Content: content}, tokens: n}
	if prepend {
		r.entries = append(r.entries, entry{})
		copy(r.entries[2:], r.entries[1:])
		r.entries[1] = e
	} else {
		r.entries = append(r.entries, e)
	}
	r.usedTokens += n
	return true, nil
}

// Sendable reports whether the request can be sent: it needs at least one
// entry after the system prompt. A leading assistant entry is dropped first
// (once), since a conversation must not open with the assistant speaking.
func (r *Request) Sendable() bool {
	if len(r.entries) < 2 {
		return false
	}
	if !r.trimmed && r.entries[1].msg.Role == RoleAssistant {
		r.usedTokens -= r.entries[1].tokens
		r.entries = append(r.entries[:1], r.entries[2:]...)
		r.trimmed = true
	}
	return len(r.entries) >= 2
}

// Messages returns a copy of the current message list.
func (r *Request) Messages() []Message {
	out := make([]Message, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.msg
	}
	return out
}

// UsedTokens is the token total of all entries.
func (r *Request) UsedTokens() int { return r.usedTokens }

// MaxTokens is the configured budget.
func (r *Request) MaxTokens() int { return r.maxTokens }

// Model is the model identifier the request was assembled for.
func (r *Request) Model() string { return r.model }

func dropLastRunes(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if n >= count {
		return ""
	}
	keep := count - n
	for i := range s {
		if keep == 0 {
			return s[:i]
		}
		keep--
	}
	return s
}
