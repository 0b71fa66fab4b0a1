package services

import (
	"testing"
	"time"

	"github.com/cppla/clubcheckin/models"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(4, nil)
	defer b.Close()

	a, c := b.Subscribe(), b.Subscribe()
	if n := b.Subscribers(); n != 2 {
		t.Fatalf("Subscribers = %d, want 2", n)
	}

	msg := Message{Type: "checkin", Event: models.CheckinEvent{ID: "e1"}}
	if n := b.Publish(msg); n != 2 {
		t.Fatalf("delivered to %d, want 2", n)
	}
	for i, s := range []*Subscription{a, c} {
		select {
		case got := <-s.C():
			if got.Event.ID != "e1" {
				t.Fatalf("subscriber %d got %q", i, got.Event.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}

	a.Close()
	a.Close()
	if _, ok := <-a.C(); ok {
		t.Fatal("closed subscription still open")
	}
	if n := b.Publish(msg); n != 1 {
		t.Fatalf("delivered to %d after close, want 1", n)
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(1, nil)
	defer b.Close()
	slow := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Message{Event: models.CheckinEvent{ID: "x"}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := len(slow.C()); got != 1 {
		t.Fatalf("buffered %d messages, want 1", got)
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(1, nil)
	s := b.Subscribe()
	b.Close()
	b.Close()

	if _, ok := <-s.C(); ok {
		t.Fatal("stream not closed on shutdown")
	}
	late := b.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Fatal("subscription after shutdown should be closed")
	}
	if n := b.Publish(Message{}); n != 0 {
		t.Fatalf("Publish after Close delivered %d", n)
	}
	s.Close()
}
