// Package line sends replies through the LINE Messaging API.
package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/bdobrica/linegpt/common/retry"
)

// Sticker shown for messages the bot cannot read.
const (
	DefaultStickerPackageID = "11538"
	DefaultStickerID        = "51626499"
)

// ErrNoReplyToken is returned for events that cannot be answered.
var ErrNoReplyToken = errors.New("line: event has no reply token")

// Config configures a Client.
type Config struct {
	ChannelAccessToken string
	// APIBaseURL overrides https://api.line.me (tests, proxies).
	APIBaseURL string
	// QuickReply items attached to every reply. Each item is a LINE
	// QuickReplyItem JSON object.
	QuickReply []json.RawMessage
	HTTPClient *http.Client
	Retry      retry.Config
}

// Client replies to LINE events.
type Client struct {
	token      string
	opts       []messaging_api.MessagingApiAPIOption
	quickReply *messaging_api.QuickReply
	retry      retry.Config
}

// New builds a Client. Quick reply items that do not decode are logged and
// dropped.
func New(cfg Config) (*Client, error) {
	if cfg.ChannelAccessToken == "" {
		return nil, errors.New("line: channel access token is required")
	}
	var opts []messaging_api.MessagingApiAPIOption
	if cfg.APIBaseURL != "" {
		opts = append(opts, messaging_api.WithEndpoint(cfg.APIBaseURL))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	opts = append(opts, messaging_api.WithHTTPClient(httpClient))

	if _, err := messaging_api.NewMessagingApiAPI(cfg.ChannelAccessToken, opts...); err != nil {
		return nil, fmt.Errorf("line: new messaging client: %w", err)
	}

	rc := cfg.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig
	}
	rc.Name = "line.reply"
	rc.ShouldRetry = func(err error) bool { return !errors.Is(err, errClientStatus) }

	return &Client{token: cfg.ChannelAccessToken, opts: opts, quickReply: buildQuickReply(cfg.QuickReply), retry: rc}, nil
}

func buildQuickReply(raw []json.RawMessage) *messaging_api.QuickReply {
	if len(raw) == 0 {
		return nil
	}
	items := make([]messaging_api.QuickReplyItem, 0, len(raw))
	for i, r := range raw {
		var item messaging_api.QuickReplyItem
		if err := json.Unmarshal(r, &item); err != nil {
			slog.Warn("line: dropping quick reply item", "index", i, "err", err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil
	}
	return &messaging_api.QuickReply{Items: items}
}

// ReplyText answers replyToken with text.
func (c *Client) ReplyText(ctx context.Context, replyToken, text string) error {
	return c.reply(ctx, replyToken, messaging_api.TextMessage{
		Text:       text,
		QuickReply: c.quickReply,
	})
}

// ReplySticker answers replyToken with a sticker.
func (c *Client) ReplySticker(ctx context.Context, replyToken, packageID, stickerID string) error {
	return c.reply(ctx, replyToken, messaging_api.StickerMessage{
		PackageId:  packageID,
		StickerId:  stickerID,
		QuickReply: c.quickReply,
	})
}

var errClientStatus = errors.New("line: request rejected")

func (c *Client) reply(ctx context.Context, replyToken string, msg messaging_api.MessageInterface) error {
	if replyToken == "" {
		return ErrNoReplyToken
	}
	req := &messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   []messaging_api.MessageInterface{msg},
	}
	// WithContext mutates the SDK client, so each reply gets its own.
	api, err := messaging_api.NewMessagingApiAPI(c.token, c.opts...)
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	api = api.WithContext(ctx)
	err = retry.Do(ctx, c.retry, func() error {
		res, _, err := api.ReplyMessageWithHttpInfo(req)
		if err != nil && res != nil && res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", errClientStatus, err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	return nil
}
