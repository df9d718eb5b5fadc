package matrix_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bdobrica/linegpt/internal/linegpt/matrix"
)

func TestSendNotice(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$evt1"}`))
	}))
	defer srv.Close()

	c, err := matrix.New(matrix.Config{Homeserver: srv.URL, UserID: "@linegpt:example.com", AccessToken: "secret"})
	if err != nil {
		t.Fatalf("matrix.New: %v", err)
	}
	if err := c.SendNotice(context.Background(), "!ops:example.com", "hello ops"); err != nil {
		t.Fatalf("SendNotice: %v", err)
	}

	if !strings.Contains(gotPath, "/send/m.room.message/") {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotBody["msgtype"] != "m.notice" || gotBody["body"] != "hello ops" {
		t.Errorf("unexpected body %v", gotBody)
	}
}

func TestSendNotice_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
	}))
	defer srv.Close()

	c, err := matrix.New(matrix.Config{Homeserver: srv.URL, UserID: "@linegpt:example.com", AccessToken: "secret"})
	if err != nil {
		t.Fatalf("matrix.New: %v", err)
	}
	if err := c.SendNotice(context.Background(), "!ops:example.com", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_RequiresHomeserver(t *testing.T) {
	if _, err := matrix.New(matrix.Config{AccessToken: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
