// Package tokenizer counts model tokens for budget decisions.
//
// Counting uses the BPE vocabulary of the model family (tiktoken). The BPE
// ranks are compiled into the binary through the offline loader, so counting
// never touches the network.
package tokenizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/bdobrica/linegpt/internal/linegpt/config"
)

var loaderOnce sync.Once

// defaultOverrides maps model prefixes tiktoken does not know to the closest
// encoding. Claude models use their own tokenizer; cl100k_base is a usable
// approximation for budgeting.
var defaultOverrides = map[string]string{
	"claude-": tiktoken.MODEL_CL100K_BASE,
}

// Tiktoken counts tokens per model identifier. Encodings are resolved once
// per model and cached. Safe for concurrent use.
type Tiktoken struct {
	mu        sync.Mutex
	overrides map[string]string
	cache     map[string]*tiktoken.Tiktoken
}

// Option customizes a Tiktoken.
type Option func(*Tiktoken)

// WithEncoding forces every model whose identifier starts with prefix to use
// the named encoding (e.g. "cl100k_base").
func WithEncoding(prefix, encoding string) Option {
	return func(t *Tiktoken) {
		t.overrides[prefix] = encoding
	}
}

// New returns a counter with the default prefix overrides plus opts.
func New(opts ...Option) *Tiktoken {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	t := &Tiktoken{
		overrides: make(map[string]string, len(defaultOverrides)),
		cache:     make(map[string]*tiktoken.Tiktoken),
	}
	for k, v := range defaultOverrides {
		t.overrides[k] = v
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Count returns the number of tokens text encodes to for model. Empty text
// is 0 regardless of model. An unknown model yields *config.ConfigurationError.
func (t *Tiktoken) Count(model, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc, err := t.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) encoding(model string) (*tiktoken.Tiktoken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.cache[model]; ok {
		return enc, nil
	}

	var (
		enc *tiktoken.Tiktoken
		err error
	)
	if name, ok := t.override(model); ok {
		enc, err = tiktoken.GetEncoding(name)
	} else {
		enc, err = tiktoken.EncodingForModel(model)
	}
	if err != nil {
		return nil, &config.ConfigurationError{
			Key:    "OPENAI_MODEL_NAME",
			Reason: fmt.Sprintf("no tokenizer for model %q: %v", model, err),
		}
	}
	t.cache[model] = enc
	return enc, nil
}

// override returns the encoding of the longest matching prefix.
func (t *Tiktoken) override(model string) (string, bool) {
	prefixes := make([]string, 0, len(t.overrides))
	for p := range t.overrides {
		if strings.HasPrefix(model, p) {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return "", false
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return t.overrides[prefixes[0]], true
}
