// Package envelope defines the queued event envelope exchanged between the
// webhook receiver and the worker. The receiver wraps every accepted LINE
// webhook event as
//
//	{"event_type": "text_message", "line_event": { ...LINE webhook event... }}
//
// and the worker routes on event_type. line_event keeps LINE's own camelCase
// field names so a stored envelope can be compared directly with the LINE
// Messaging API documentation.
package envelope

import (
	"encoding/json"
	"fmt"
)

// EventType classifies a queued event.
type EventType string

const (
	TypeTextMessage     EventType = "text_message"
	TypeImageMessage    EventType = "image_message"
	TypeVideoMessage    EventType = "video_message"
	TypeAudioMessage    EventType = "audio_message"
	TypeLocationMessage EventType = "location_message"
	TypeStickerMessage  EventType = "sticker_message"
	TypeFileMessage     EventType = "file_message"
	TypeFollow          EventType = "follow"
	TypeUnfollow        EventType = "unfollow"
	TypeJoin            EventType = "join"
	TypeLeave           EventType = "leave"
	TypeMemberJoined    EventType = "member_joined"
	TypeMemberLeft      EventType = "member_left"
)

// IsMessage reports whether t is one of the *_message event types.
func (t EventType) IsMessage() bool {
	switch t {
	case TypeTextMessage, TypeImageMessage, TypeVideoMessage, TypeAudioMessage,
		TypeLocationMessage, TypeStickerMessage, TypeFileMessage:
		return true
	}
	return false
}

// IsLifecycle reports whether t is a membership or follow event.
func (t EventType) IsLifecycle() bool {
	switch t {
	case TypeFollow, TypeUnfollow, TypeJoin, TypeLeave, TypeMemberJoined, TypeMemberLeft:
		return true
	}
	return false
}

// Known reports whether t is one of the enumerated event types.
func (t EventType) Known() bool {
	return t.IsMessage() || t.IsLifecycle()
}

// Envelope is the queue message body.
type Envelope struct {
	EventType EventType  `json:"event_type"`
	LineEvent *LineEvent `json:"line_event"`
}

// LineEvent is the subset of a LINE webhook event the worker consumes.
type LineEvent struct {
	Type            string           `json:"type"`
	Mode            string           `json:"mode,omitempty"`
	Timestamp       int64            `json:"timestamp,omitempty"`
	ReplyToken      string           `json:"replyToken,omitempty"`
	WebhookEventID  string           `json:"webhookEventId,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	Source          *Source          `json:"source,omitempty"`
	Message         *Message         `json:"message,omitempty"`
}

// DeliveryContext carries LINE's redelivery flag.
type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// Source identifies where an event originated.
type Source struct {
	Type    string `json:"type,omitempty"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Message is the message payload of a message event. Only the fields used by
// the worker and by logs are kept.
type Message struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Text      string `json:"text,omitempty"`
	PackageID string `json:"packageId,omitempty"`
	StickerID string `json:"stickerId,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// DefaultConversationID is used as queue group when an event carries no
// source at all, so such events still share a single ordered lane.
const DefaultConversationID = "linegpt"

// ConversationID returns the identifier of the talk context the event belongs
// to: the room ID when present, else the group ID, else the user ID. Returns
// "" when the event has no source.
func (e *LineEvent) ConversationID() string {
	if e == nil || e.Source == nil {
		return ""
	}
	switch {
	case e.Source.RoomID != "":
		return e.Source.RoomID
	case e.Source.GroupID != "":
		return e.Source.GroupID
	default:
		return e.Source.UserID
	}
}

// UserID returns the author of the event, or "" when unknown.
func (e *LineEvent) UserID() string {
	if e == nil || e.Source == nil {
		return ""
	}
	return e.Source.UserID
}

// Text returns the text of a text message event, or "".
func (e *LineEvent) Text() string {
	if e == nil || e.Message == nil {
		return ""
	}
	return e.Message.Text
}

// Validate checks that an Envelope is structurally valid.
// It returns a descriptive error if any invariant is violated, or nil if the
// envelope may be safely dispatched.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("envelope must not be nil")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type must not be empty")
	}
	if e.LineEvent == nil {
		return fmt.Errorf("line_event must be an object")
	}
	return nil
}

// Parse decodes a JSON-encoded Envelope and validates it.
// It is the canonical entry point for deserialising queue message bodies.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("envelope parse: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("envelope validate: %w", err)
	}
	return &env, nil
}

// Marshal encodes env without HTML escaping so message text is stored as the
// user wrote it.
func Marshal(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("envelope validate: %w", err)
	}
	return marshalNoEscape(env)
}
