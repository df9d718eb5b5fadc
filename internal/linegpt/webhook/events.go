package webhook

import (
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/bdobrica/linegpt/common/spec/envelope"
)

// toEnvelope converts a decoded webhook event into a queue envelope. ok is
// false for events the worker does not handle (postbacks are answered by the
// receiver itself).
func toEnvelope(ev webhook.EventInterface) (env *envelope.Envelope, ok bool) {
	switch e := ev.(type) {
	case webhook.MessageEvent:
		le := baseEvent("message", e.Source, e.Timestamp, string(e.Mode), e.WebhookEventId, e.DeliveryContext)
		le.ReplyToken = e.ReplyToken
		typ, msg, known := messageContent(e.Message)
		if !known {
			return nil, false
		}
		le.Message = msg
		return &envelope.Envelope{EventType: typ, LineEvent: le}, true
	case webhook.FollowEvent:
		le := baseEvent("follow", e.Source, e.Timestamp, string(e.Mode), e.WebhookEventId, e.DeliveryContext)
		le.ReplyToken = e.ReplyToken
		return &envelope.Envelope{EventType: envelope.TypeFollow, LineEvent: le}, true
	case webhook.UnfollowEvent:
		le := baseEvent("unfollow", e.Source, e.Timestamp, string(e.Mode), e.WebhookEventId, e.DeliveryContext)
		return &envelope.Envelope{EventType: envelope.TypeUnfollow, LineEvent: le}, true
	case webhook.JoinEvent:
		le := baseEvent("join", e.Source, e.Timestamp, string(e.Mode), e.WebhookEventId, e.DeliveryContext)
		le.ReplyToken = e.ReplyToken
		return &envelope.Envelope{EventType: envelope.TypeJoin, LineEvent: le}, true
	case webhook.LeaveEvent:
		le := baseEvent("leave", e.Source, e.Timestamp, string(e.Mode), e.WebhookEventId, e.DeliveryContext)
		return &envelope.Envelope{EventType: envelope.TypeLeave, LineEvent: le}, true
	case webhook.MemberJoinedEvent:
		le := baseEvent("memberJoined", e.Source, e.Timestamp, string(e.Mode), e.WebhookEventId, e.DeliveryContext)
		le.ReplyToken = e.ReplyToken
		return &envelope.Envelope{EventType: envelope.TypeMemberJoined, LineEvent: le}, true
	case webhook.MemberLeftEvent:
		le := baseEvent("memberLeft", e.Source, e.Timestamp, string(e.Mode), e.WebhookEventId, e.DeliveryContext)
		return &envelope.Envelope{EventType: envelope.TypeMemberLeft, LineEvent: le}, true
	}
	return nil, false
}

func baseEvent(typ string, src webhook.SourceInterface, ts int64, mode, eventID string, dc *webhook.DeliveryContext) *envelope.LineEvent {
	le := &envelope.LineEvent{
		Type:           typ,
		Mode:           mode,
		Timestamp:      ts,
		WebhookEventID: eventID,
		Source:         source(src),
	}
	if dc != nil {
		le.DeliveryContext = &envelope.DeliveryContext{IsRedelivery: dc.IsRedelivery}
	}
	return le
}

func source(src webhook.SourceInterface) *envelope.Source {
	switch s := src.(type) {
	case webhook.UserSource:
		return &envelope.Source{Type: "user", UserID: s.UserId}
	case webhook.GroupSource:
		return &envelope.Source{Type: "group", GroupID: s.GroupId, UserID: s.UserId}
	case webhook.RoomSource:
		return &envelope.Source{Type: "room", RoomID: s.RoomId, UserID: s.UserId}
	}
	return nil
}

func messageContent(m webhook.MessageContentInterface) (envelope.EventType, *envelope.Message, bool) {
	switch c := m.(type) {
	case webhook.TextMessageContent:
		return envelope.TypeTextMessage, &envelope.Message{ID: c.Id, Type: "text", Text: c.Text}, true
	case webhook.ImageMessageContent:
		return envelope.TypeImageMessage, &envelope.Message{ID: c.Id, Type: "image"}, true
	case webhook.VideoMessageContent:
		return envelope.TypeVideoMessage, &envelope.Message{ID: c.Id, Type: "video"}, true
	case webhook.AudioMessageContent:
		return envelope.TypeAudioMessage, &envelope.Message{ID: c.Id, Type: "audio"}, true
	case webhook.LocationMessageContent:
		return envelope.TypeLocationMessage, &envelope.Message{ID: c.Id, Type: "location"}, true
	case webhook.StickerMessageContent:
		return envelope.TypeStickerMessage, &envelope.Message{ID: c.Id, Type: "sticker", PackageID: c.PackageId, StickerID: c.StickerId}, true
	case webhook.FileMessageContent:
		return envelope.TypeFileMessage, &envelope.Message{ID: c.Id, Type: "file", FileName: c.FileName}, true
	}
	return "", nil, false
}
