package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/store"
)

func TestParseIndex(t *testing.T) {
	cases := map[string]store.Index{
		"conversation": store.ByConversation,
		"Author":       store.ByAuthor,
		"fingerprint":  store.ByFingerprint,
	}
	for in, want := range cases {
		got, err := parseIndex(in)
		if err != nil || got != want {
			t.Errorf("parseIndex(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseIndex("ttl"); err == nil {
		t.Error("expected error for unknown index")
	}
}

func TestHistoryTurnsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("DATABASE_PATH", dbPath)

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second"} {
		err := st.SaveTurn(context.Background(), &store.ConversationTurn{
			ConversationID: "Ua1b2c3d4e5f60718293a4b5c6d7e8f90",
			AuthorID:       "Ua1b2c3d4e5f60718293a4b5c6d7e8f90",
			Text:           text,
			CreatedAt:      at.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}
	st.Close()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"history", "turns", "--key", "Ua1b2c3d4e5f60718293a4b5c6d7e8f90", "--limit", "1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %q", out.String())
	}
	var rec turnRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Text != "second" {
		t.Errorf("expected newest turn, got %+v", rec)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "linegpt ") {
		t.Errorf("unexpected output %q", out.String())
	}
}
