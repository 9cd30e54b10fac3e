package leaselock

import (
	"errors"
	"testing"
	"time"
)

func TestNewLockConfiguration(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := NewLockConfiguration(now, "job", 10*time.Minute, time.Minute)
	if cfg.Name != "job" {
		t.Fatalf("unexpected name %q", cfg.Name)
	}
	if !cfg.LockAtMostUntil.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected lockAtMostUntil %v", cfg.LockAtMostUntil)
	}
	if !cfg.LockAtLeastUntil.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected lockAtLeastUntil %v", cfg.LockAtLeastUntil)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateEmptyName(t *testing.T) {
	cfg := NewLockConfiguration(time.Now(), "", time.Minute, 0)
	if err := cfg.Validate(); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestValidateInvertedWindow(t *testing.T) {
	now := time.Now()
	cfg := LockConfiguration{
		Name:             "job",
		LockAtMostUntil:  now.Add(time.Minute),
		LockAtLeastUntil: now.Add(2 * time.Minute),
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestLockErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&LockError{Op: "acquire", Name: "job", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("LockError must unwrap to its cause")
	}
	var lerr *LockError
	if !errors.As(err, &lerr) || lerr.Op != "acquire" {
		t.Fatalf("errors.As failed: %v", err)
	}
}

func TestSystemClock(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Fatalf("clock out of range: %v", got)
	}
}
