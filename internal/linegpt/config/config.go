// Package config loads linegpt process configuration.
//
// Settings come from an optional YAML file (path in LINEGPT_CONFIG) and are
// then overridden by environment variables, so a deployment can ship a file
// with the stable settings and inject credentials through the environment.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/linegpt/common/environment"
)

// Defaults. The model and timeout defaults mirror what the bot has always
// shipped with.
const (
	DefaultModelName           = "gpt-3.5-turbo"
	DefaultModelMaxTokens      = 4096
	DefaultSystemMessage       = "This is a default system."
	DefaultRequestTimeout      = 10 * time.Second
	DefaultTimeoutErrorMessage = "The OpenAI API request has timed out."
	DefaultRequestKeep         = 604800 * time.Second
	DefaultDatabasePath        = "linegpt.db"
	DefaultHTTPAddr            = ":8080"
	DefaultWorkerConcurrency   = 4
	DefaultPollInterval        = time.Second
	DefaultVisibilityTimeout   = 2 * time.Minute
	DefaultMaxReceives         = 5
	DefaultStickerDelay        = 5 * time.Second
	DefaultWebhookRateLimit    = 60
)

// Provider names accepted in LLM_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMConfig configures the LLM gateway and the conversation assembler.
type LLMConfig struct {
	Provider            string        `yaml:"provider"`
	Model               string        `yaml:"model"`
	MaxTokens           int           `yaml:"max_tokens"`
	SystemMessage       string        `yaml:"system_message"`
	Timeout             time.Duration `yaml:"timeout"`
	TimeoutErrorMessage string        `yaml:"timeout_error_message"`
	OpenAIAPIKey        string        `yaml:"openai_api_key"`
	OpenAIBaseURL       string        `yaml:"openai_base_url"`
	AnthropicAPIKey     string        `yaml:"anthropic_api_key"`
	// ResponseMaxTokens bounds the completion length for providers that
	// require it (Anthropic). Zero lets the provider pick.
	ResponseMaxTokens int `yaml:"response_max_tokens"`
}

// LINEConfig holds the LINE channel credentials and reply options.
type LINEConfig struct {
	ChannelSecret      string `yaml:"channel_secret"`
	ChannelAccessToken string `yaml:"channel_access_token"`
	// APIBaseURL overrides the Messaging API endpoint (tests, proxies).
	APIBaseURL string `yaml:"api_base_url"`
	// QuickReply holds the raw quick-reply items attached to every reply.
	// Each entry is a LINE QuickReplyItem JSON object.
	QuickReply []json.RawMessage `yaml:"-"`
}

// QueueConfig tunes the durable event queue.
type QueueConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxReceives       int           `yaml:"max_receives"`
}

// WorkerConfig tunes event processing.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	StickerDelay time.Duration `yaml:"sticker_delay"`
}

// HTTPConfig configures the webhook receiver and health endpoints.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is the number of webhook events accepted per conversation per
	// minute before further events are dropped.
	RateLimit int `yaml:"rate_limit"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MatrixConfig configures the optional operator notice room. Notices are
// disabled when any field is empty.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	RoomID      string `yaml:"room_id"`
}

// Enabled reports whether every field needed to post notices is set.
func (m MatrixConfig) Enabled() bool {
	return m.Homeserver != "" && m.UserID != "" && m.AccessToken != "" && m.RoomID != ""
}

// Config is the complete process configuration.
type Config struct {
	DatabasePath string        `yaml:"database_path"`
	RequestKeep  time.Duration `yaml:"request_keep"`
	LLM          LLMConfig     `yaml:"llm"`
	LINE         LINEConfig    `yaml:"line"`
	Queue        QueueConfig   `yaml:"queue"`
	Worker       WorkerConfig  `yaml:"worker"`
	HTTP         HTTPConfig    `yaml:"http"`
	Log          LogConfig     `yaml:"log"`
	Matrix       MatrixConfig  `yaml:"matrix"`

	// QuickReplyJSON is the quick-reply list as configured in the file.
	QuickReplyJSON string `yaml:"quick_reply"`
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		DatabasePath: DefaultDatabasePath,
		RequestKeep:  DefaultRequestKeep,
		LLM: LLMConfig{
			Provider:            ProviderOpenAI,
			Model:               DefaultModelName,
			MaxTokens:           DefaultModelMaxTokens,
			SystemMessage:       DefaultSystemMessage,
			Timeout:             DefaultRequestTimeout,
			TimeoutErrorMessage: DefaultTimeoutErrorMessage,
			ResponseMaxTokens:   1024,
		},
		Queue: QueueConfig{
			PollInterval:      DefaultPollInterval,
			VisibilityTimeout: DefaultVisibilityTimeout,
			MaxReceives:       DefaultMaxReceives,
		},
		Worker: WorkerConfig{
			Concurrency:  DefaultWorkerConcurrency,
			StickerDelay: DefaultStickerDelay,
		},
		HTTP: HTTPConfig{
			Addr:      DefaultHTTPAddr,
			RateLimit: DefaultWebhookRateLimit,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// LINEGPT_CONFIG, and the environment, in that order of increasing priority.
func Load() (*Config, error) {
	cfg := Default()
	if path := environment.StringOr("LINEGPT_CONFIG", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.LINE.QuickReply = ParseQuickReply(cfg.QuickReplyJSON)
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return &ConfigurationError{Key: path, Reason: err.Error()}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabasePath = environment.StringOr("DATABASE_PATH", c.DatabasePath)
	c.RequestKeep = environment.SecondsOr("REQUEST_KEEP_SEC", c.RequestKeep)

	c.LLM.Provider = strings.ToLower(environment.StringOr("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.Model = environment.StringOr("OPENAI_MODEL_NAME", c.LLM.Model)
	c.LLM.MaxTokens = environment.IntOr("OPENAI_MODEL_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.SystemMessage = environment.TextOr("OPENAPI_CHAT_GPT_SYSTEM_MESSAGE", c.LLM.SystemMessage)
	c.LLM.Timeout = environment.SecondsOr("OPENAI_REQUEST_TIMEOUT", c.LLM.Timeout)
	c.LLM.TimeoutErrorMessage = environment.TextOr("OPENAI_REQUEST_TIMEOUT_ERROR_MESSAGE", c.LLM.TimeoutErrorMessage)
	c.LLM.OpenAIAPIKey = environment.StringOr("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIBaseURL = environment.StringOr("OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.AnthropicAPIKey = environment.StringOr("ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.ResponseMaxTokens = environment.IntOr("LLM_RESPONSE_MAX_TOKENS", c.LLM.ResponseMaxTokens)

	c.LINE.ChannelSecret = environment.StringOr("LINE_CHANNEL_SECRET", c.LINE.ChannelSecret)
	c.LINE.ChannelAccessToken = environment.StringOr("LINE_CHANNEL_ACCESS_TOKEN", c.LINE.ChannelAccessToken)
	c.LINE.APIBaseURL = environment.StringOr("LINE_API_BASE_URL", c.LINE.APIBaseURL)
	if v, ok := environment.String("QUICK_REPLY"); ok {
		c.QuickReplyJSON = v
	}

	c.Queue.PollInterval = environment.DurationOr("QUEUE_POLL_INTERVAL", c.Queue.PollInterval)
	c.Queue.VisibilityTimeout = environment.DurationOr("QUEUE_VISIBILITY_TIMEOUT", c.Queue.VisibilityTimeout)
	c.Queue.MaxReceives = environment.IntOr("QUEUE_MAX_RECEIVES", c.Queue.MaxReceives)

	c.Worker.Concurrency = environment.IntOr("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.StickerDelay = environment.DurationOr("STICKER_DELAY", c.Worker.StickerDelay)

	c.HTTP.Addr = environment.StringOr("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.RateLimit = environment.IntOr("WEBHOOK_RATE_LIMIT", c.HTTP.RateLimit)

	c.Log.Level = environment.StringOr("LOG_LEVEL", environment.StringOr("LOGGER_LEVEL", c.Log.Level))
	c.Log.Format = environment.StringOr("LOG_FORMAT", c.Log.Format)

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	c.Matrix.RoomID = environment.StringOr("MATRIX_NOTICE_ROOM", c.Matrix.RoomID)
}

// ParseQuickReply decodes the configured quick-reply list. The value must be a
// JSON array whose first element is an object; anything else is logged and
// ignored so a bad setting never blocks replies.
func ParseQuickReply(raw string) []json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		slog.Error("QUICK_REPLY is invalid", "err", err)
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	var first map[string]any
	if err := json.Unmarshal(items[0], &first); err != nil {
		slog.Error("QUICK_REPLY items must be objects", "err", err)
		return nil
	}
	return items
}

// ValidateWebhook checks the settings the webhook receiver needs.
func (c *Config) ValidateWebhook() error {
	if c.LINE.ChannelSecret == "" {
		return &ConfigurationError{Key: "LINE_CHANNEL_SECRET", Reason: "is required"}
	}
	if c.HTTP.Addr == "" {
		return &ConfigurationError{Key: "HTTP_ADDR", Reason: "is required"}
	}
	return nil
}

// ValidateWorker checks the settings the worker needs.
func (c *Config) ValidateWorker() error {
	if c.LINE.ChannelAccessToken == "" {
		return &ConfigurationError{Key: "LINE_CHANNEL_ACCESS_TOKEN", Reason: "is required"}
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return &ConfigurationError{Key: "OPENAI_API_KEY", Reason: "is required for the openai provider"}
		}
	case ProviderAnthropic:
		if c.LLM.AnthropicAPIKey == "" {
			return &ConfigurationError{Key: "ANTHROPIC_API_KEY", Reason: "is required for the anthropic provider"}
		}
	default:
		return &ConfigurationError{Key: "LLM_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	if c.LLM.Model == "" {
		return &ConfigurationError{Key: "OPENAI_MODEL_NAME", Reason: "must not be empty"}
	}
	if c.LLM.MaxTokens <= 0 {
		return &ConfigurationError{Key: "OPENAI_MODEL_MAX_TOKENS", Reason: "must be positive"}
	}
	if c.LLM.Timeout <= 0 {
		return &ConfigurationError{Key: "OPENAI_REQUEST_TIMEOUT", Reason: "must be positive"}
	}
	if c.RequestKeep <= 0 {
		return &ConfigurationError{Key: "REQUEST_KEEP_SEC", Reason: "must be positive"}
	}
	if c.Worker.Concurrency <= 0 {
		return &ConfigurationError{Key: "WORKER_CONCURRENCY", Reason: "must be positive"}
	}
	return nil
}
