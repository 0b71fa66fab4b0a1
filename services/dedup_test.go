package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cppla/clubcheckin/models"
)

func read(id, reader, uid string, at time.Time) *models.CheckinEvent {
	return &models.CheckinEvent{ID: id, ReaderName: reader, CardUID: uid, Source: models.SourceGateway, OccurredAt: at}
}

func TestGuardDebounceLaw(t *testing.T) {
	base := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		second *models.CheckinEvent
		want   Decision
	}{
		{"same reader inside window", read("", "front", "AA", base.Add(time.Second)), Decision{Reason: ReasonDebounced}},
		{"same reader just inside window", read("", "front", "AA", base.Add(2999*time.Millisecond)), Decision{Reason: ReasonDebounced}},
		{"out of order inside window", read("", "front", "AA", base.Add(-time.Second)), Decision{Reason: ReasonDebounced}},
		{"same reader at window edge", read("", "front", "AA", base.Add(3*time.Second)), Decision{Accepted: true}},
		{"same reader after window", read("", "front", "AA", base.Add(10*time.Second)), Decision{Accepted: true}},
		{"other reader", read("", "back", "AA", base.Add(time.Second)), Decision{Accepted: true}},
		{"other card", read("", "front", "BB", base.Add(time.Second)), Decision{Accepted: true}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(GuardOptions{Debounce: 3 * time.Second})
			ctx := context.Background()
			if d := g.Accept(ctx, read("", "front", "AA", base)); !d.Accepted {
				t.Fatalf("first read rejected: %+v", d)
			}
			if got := g.Accept(ctx, tt.second); got != tt.want {
				t.Fatalf("Accept = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGuardDebounceBufferedUploads(t *testing.T) {
	g := NewGuard(GuardOptions{Debounce: 3 * time.Second})
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{10 * time.Second, true},
		// arrives last but was read a second after the first accepted scan
		{time.Second, false},
		{8 * time.Second, false},
		{5 * time.Second, true},
	}
	for i, st := range steps {
		d := g.Accept(ctx, read("", "r1", "AA", base.Add(st.at)))
		if d.Accepted != st.want {
			t.Fatalf("step %d (+%v): Accept = %+v, want accepted=%v", i, st.at, d, st.want)
		}
	}
}

func TestGuardForgetKeepsOtherMarks(t *testing.T) {
	g := NewGuard(GuardOptions{Debounce: 3 * time.Second})
	ctx := context.Background()
	base := time.Now()

	first := read("", "front", "AA", base)
	second := read("", "front", "AA", base.Add(10*time.Second))
	g.Accept(ctx, first)
	g.Accept(ctx, second)
	g.Forget(ctx, second)

	if d := g.Accept(ctx, read("", "front", "AA", base.Add(time.Second))); d.Accepted {
		t.Fatal("Forget dropped an unrelated scan time")
	}
	if d := g.Accept(ctx, second); !d.Accepted {
		t.Fatalf("retry after Forget rejected: %+v", d)
	}
}

func TestGuardDuplicateID(t *testing.T) {
	g := NewGuard(GuardOptions{Debounce: time.Second, IDWindow: time.Minute})
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	if d := g.Accept(ctx, read("evt-1", "front", "AA", now)); !d.Accepted {
		t.Fatalf("first accept rejected: %+v", d)
	}
	// far outside the debounce window, still the same event id
	if d := g.Accept(ctx, read("evt-1", "front", "AA", now.Add(time.Hour))); d.Reason != ReasonDuplicateID {
		t.Fatalf("replay = %+v, want duplicate-id", d)
	}

	now = now.Add(2 * time.Minute)
	if d := g.Accept(ctx, read("evt-1", "front", "AA", now.Add(2*time.Hour))); !d.Accepted {
		t.Fatalf("id outside window should be accepted again: %+v", d)
	}
}

func TestGuardRejectionLeavesNoMark(t *testing.T) {
	g := NewGuard(GuardOptions{Debounce: 3 * time.Second})
	ctx := context.Background()
	base := time.Now()

	g.Accept(ctx, read("a", "front", "AA", base))
	if d := g.Accept(ctx, read("b", "front", "AA", base.Add(2*time.Second))); d.Accepted {
		t.Fatal("second read should be debounced")
	}
	// the debounced read must not extend the window
	if d := g.Accept(ctx, read("c", "front", "AA", base.Add(3500*time.Millisecond))); !d.Accepted {
		t.Fatalf("read after the first window rejected: %+v", d)
	}
	// and its id was never recorded
	if d := g.Accept(ctx, read("b", "side", "CC", base)); !d.Accepted {
		t.Fatalf("rejected id should not be remembered: %+v", d)
	}
}

func TestGuardConcurrentSameCard(t *testing.T) {
	g := NewGuard(GuardOptions{Debounce: 3 * time.Second})
	at := time.Now()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Accept(context.Background(), read("", "front", "AA", at)).Accepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := accepted.Load(); n != 1 {
		t.Fatalf("accepted %d concurrent reads, want 1", n)
	}
}

func TestGuardForget(t *testing.T) {
	g := NewGuard(GuardOptions{Debounce: 3 * time.Second})
	ctx := context.Background()
	ev := read("evt-9", "front", "AA", time.Now())

	g.Accept(ctx, ev)
	g.Forget(ctx, ev)
	if d := g.Accept(ctx, ev); !d.Accepted {
		t.Fatalf("retry after Forget rejected: %+v", d)
	}
}

func TestGuardPrune(t *testing.T) {
	g := NewGuard(GuardOptions{Debounce: 3 * time.Second})
	now := time.Now()
	g.now = func() time.Time { return now }

	g.Accept(context.Background(), read("", "front", "AA", now))
	g.Accept(context.Background(), read("", "front", "BB", now))
	if n := g.Prune(); n != 0 {
		t.Fatalf("pruned %d fresh marks", n)
	}

	now = now.Add(5 * time.Minute)
	if n := g.Prune(); n != 2 {
		t.Fatalf("pruned %d marks, want 2", n)
	}
}
