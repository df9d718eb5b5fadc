package webhook

import (
	"testing"
	"time"
)

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two calls must be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("third call must be rejected")
	}
	if !rl.Allow("b") {
		t.Fatal("other keys have their own window")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("window must reset")
	}
}
