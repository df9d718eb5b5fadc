package line_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/linegpt/common/retry"
	"github.com/bdobrica/linegpt/internal/linegpt/line"
)

type replyPayload struct {
	ReplyToken string `json:"replyToken"`
	Messages   []struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		PackageID  string `json:"packageId"`
		StickerID  string `json:"stickerId"`
		QuickReply *struct {
			Items []json.RawMessage `json:"items"`
		} `json:"quickReply"`
	} `json:"messages"`
}

func newServer(t *testing.T, statuses []int, got *replyPayload) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v2/bot/message/reply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Errorf("Authorization: got %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			if err := json.Unmarshal(body, got); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		status := http.StatusOK
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newClient(t *testing.T, baseURL string, quick []json.RawMessage) *line.Client {
	t.Helper()
	c, err := line.New(line.Config{
		ChannelAccessToken: "token",
		APIBaseURL:         baseURL,
		QuickReply:         quick,
		Retry:              retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("line.New: %v", err)
	}
	return c
}

func TestReplyText(t *testing.T) {
	var got replyPayload
	srv, calls := newServer(t, nil, &got)
	quick := []json.RawMessage{
		json.RawMessage(`{"type":"action","action":{"type":"postback","label":"Yes","data":"action=quick_reply&action_type=yes"}}`),
	}
	c := newClient(t, srv.URL, quick)

	if err := c.ReplyText(context.Background(), "rt-1", "Hello!"); err != nil {
		t.Fatalf("ReplyText: %v", err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("calls: got %d", atomic.LoadInt32(calls))
	}
	if got.ReplyToken != "rt-1" || len(got.Messages) != 1 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	m := got.Messages[0]
	if m.Type != "text" || m.Text != "Hello!" {
		t.Errorf("message: %+v", m)
	}
	if m.QuickReply == nil || len(m.QuickReply.Items) != 1 {
		t.Errorf("quick reply not attached: %+v", m.QuickReply)
	}
}

func TestReplySticker(t *testing.T) {
	var got replyPayload
	srv, _ := newServer(t, nil, &got)
	c := newClient(t, srv.URL, nil)

	if err := c.ReplySticker(context.Background(), "rt-2", line.DefaultStickerPackageID, line.DefaultStickerID); err != nil {
		t.Fatalf("ReplySticker: %v", err)
	}
	m := got.Messages[0]
	if m.Type != "sticker" || m.PackageID != "11538" || m.StickerID != "51626499" {
		t.Errorf("message: %+v", m)
	}
	if m.QuickReply != nil {
		t.Errorf("expected no quick reply, got %+v", m.QuickReply)
	}
}

func TestReply_RetriesServerErrors(t *testing.T) {
	srv, calls := newServer(t, []int{http.StatusInternalServerError, http.StatusBadGateway}, nil)
	c := newClient(t, srv.URL, nil)

	if err := c.ReplyText(context.Background(), "rt", "x"); err != nil {
		t.Fatalf("ReplyText: %v", err)
	}
	if atomic.LoadInt32(calls) != 3 {
		t.Errorf("calls: got %d, want 3", atomic.LoadInt32(calls))
	}
}

func TestReply_ClientErrorIsNotRetried(t *testing.T) {
	srv, calls := newServer(t, []int{http.StatusBadRequest}, nil)
	c := newClient(t, srv.URL, nil)

	if err := c.ReplyText(context.Background(), "rt", "x"); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("calls: got %d, want 1", atomic.LoadInt32(calls))
	}
}

func TestReply_NoReplyToken(t *testing.T) {
	srv, calls := newServer(t, nil, nil)
	c := newClient(t, srv.URL, nil)

	err := c.ReplyText(context.Background(), "", "x")
	if !errors.Is(err, line.ErrNoReplyToken) {
		t.Fatalf("expected ErrNoReplyToken, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("calls: got %d", atomic.LoadInt32(calls))
	}
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := line.New(line.Config{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestPostbackReply(t *testing.T) {
	cases := []struct {
		data   string
		want   string
		wantOK bool
	}{
		{"action=quick_reply&action_type=yes", line.PostbackYesText, true},
		{"action=quick_reply&action_type=no", line.PostbackNoText, true},
		{"action=quick_reply&action_type=maybe", line.PostbackNoText, true},
		{"action=quick_reply", line.PostbackNoText, true},
		{"action=other&action_type=yes", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := line.PostbackReply(tc.data)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("PostbackReply(%q) = %q, %v", tc.data, got, ok)
		}
	}
}
