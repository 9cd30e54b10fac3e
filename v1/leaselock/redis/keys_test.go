package redis

import (
	"strings"
	"testing"
	"time"
)

func TestLockKeyFormat(t *testing.T) {
	key := lockKey("job-lock", "prod", "daily-report")
	if key != "job-lock:prod:daily-report" {
		t.Fatalf("unexpected key %q", key)
	}
	if lockKey("job-lock", "prod", "a") == lockKey("job-lock", "staging", "a") {
		t.Fatal("environments must not collide")
	}
}

func TestLockTokenFormat(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	token := lockToken(now, "node-1")
	if !strings.HasPrefix(token, "ADDED:2024-06-01T12:00:00Z@node-1:") {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestLockTokenUniqueness(t *testing.T) {
	now := time.Now()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		token := lockToken(now, "host")
		if _, ok := seen[token]; ok {
			t.Fatalf("duplicate token after %d generations", i)
		}
		seen[token] = struct{}{}
	}
}
