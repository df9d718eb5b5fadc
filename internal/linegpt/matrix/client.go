// Package matrix posts operator notices to a Matrix room.
package matrix

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Client is a send-only Matrix client.
type Client struct {
	client *mautrix.Client
}

// New creates a Matrix client. No sync loop is started.
func New(cfg Config) (*Client, error) {
	if cfg.Homeserver == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver and access token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	return &Client{client: client}, nil
}

// SendNotice sends an m.notice message to roomID.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}
