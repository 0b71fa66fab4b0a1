package services

import (
	"context"
	"testing"
	"time"
)

func TestSessionsFallbackToDefault(t *testing.T) {
	s := NewSessions(nil, time.Hour)
	ctx := context.Background()

	if id, err := s.Selected(ctx, "front"); err != nil || id != nil {
		t.Fatalf("empty registry = %v, %v", id, err)
	}

	_ = s.Select(ctx, "", 3)
	if id, _ := s.Selected(ctx, "front"); id == nil || *id != 3 {
		t.Fatalf("front falls back to %v, want 3", id)
	}

	_ = s.Select(ctx, "front", 5)
	if id, _ := s.Selected(ctx, "front"); id == nil || *id != 5 {
		t.Fatalf("front = %v, want 5", id)
	}
	if id, _ := s.Selected(ctx, "back"); id == nil || *id != 3 {
		t.Fatalf("back = %v, want 3", id)
	}

	_ = s.Clear(ctx, "front")
	if id, _ := s.Selected(ctx, "front"); id == nil || *id != 3 {
		t.Fatalf("front after clear = %v, want 3", id)
	}
}

func TestSessionsExpire(t *testing.T) {
	s := NewSessions(nil, time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Select(ctx, "front", 1)
	now = now.Add(2 * time.Hour)
	if id, _ := s.Selected(ctx, "front"); id != nil {
		t.Fatalf("expired selection still returned %d", *id)
	}
}
