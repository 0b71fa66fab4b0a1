package services

import (
	"context"
	"errors"
	"testing"

	"github.com/cppla/clubcheckin/models"
)

func TestBindIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	b := NewBinder(db, nil, nil)
	ctx := context.Background()
	ada := seedMember(t, db, "Ada")

	first, err := b.Bind(ctx, BindRequest{MemberID: ada, CardUID: "04:a1:b2:c3"})
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if !first.Changed || first.Binding.CardUID != "04:A1:B2:C3" {
		t.Fatalf("first bind = %+v", first)
	}

	second, err := b.Bind(ctx, BindRequest{MemberID: ada, CardUID: " 04:A1:B2:C3"})
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if second.Changed {
		t.Fatal("rebinding the same pair reported a change")
	}
	if second.Binding.ID != first.Binding.ID {
		t.Fatalf("binding row changed: %+v vs %+v", second.Binding, first.Binding)
	}
	if n := countRows(t, db, &models.MemberCardBinding{}, ""); n != 1 {
		t.Fatalf("%d bindings, want 1", n)
	}

	got, err := b.Resolve(ctx, "04:a1:b2:c3")
	if err != nil || got == nil || *got != ada {
		t.Fatalf("Resolve = %v, %v; want %d", got, err, ada)
	}
}

func TestBindConflictNeedsOverride(t *testing.T) {
	db := newTestDB(t)
	b := NewBinder(db, nil, nil)
	ctx := context.Background()
	ada := seedMember(t, db, "Ada")
	bob := seedMember(t, db, "Bob")

	if _, err := b.Bind(ctx, BindRequest{MemberID: ada, CardUID: "CARD-1"}); err != nil {
		t.Fatalf("bind ada: %v", err)
	}

	_, err := b.Bind(ctx, BindRequest{MemberID: bob, CardUID: "CARD-1"})
	var conflict *BindConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, ErrBindConflict) {
		t.Fatalf("err = %v, want BindConflictError", err)
	}
	if conflict.CurrentMember != ada {
		t.Fatalf("conflict names member %d, want %d", conflict.CurrentMember, ada)
	}
	if got, _ := b.Resolve(ctx, "CARD-1"); got == nil || *got != ada {
		t.Fatalf("card moved without override: %v", got)
	}

	res, err := b.Bind(ctx, BindRequest{MemberID: bob, CardUID: "CARD-1", Override: true})
	if err != nil {
		t.Fatalf("override bind: %v", err)
	}
	if !res.Changed || res.PreviousMemberID == nil || *res.PreviousMemberID != ada {
		t.Fatalf("override result = %+v", res)
	}
	if got, _ := b.Resolve(ctx, "CARD-1"); got == nil || *got != bob {
		t.Fatalf("card resolves to %v, want %d", got, bob)
	}
	if n := countRows(t, db, &models.MemberCardBinding{}, "member_id = ?", ada); n != 0 {
		t.Fatalf("ada still has %d bindings", n)
	}
}

func TestRebindMemberReplacesOldCard(t *testing.T) {
	db := newTestDB(t)
	b := NewBinder(db, nil, nil)
	ctx := context.Background()
	ada := seedMember(t, db, "Ada")

	if _, err := b.Bind(ctx, BindRequest{MemberID: ada, CardUID: "OLD"}); err != nil {
		t.Fatal(err)
	}
	res, err := b.Bind(ctx, BindRequest{MemberID: ada, CardUID: "NEW"})
	if err != nil {
		t.Fatal(err)
	}
	if res.PreviousCardUID != "OLD" {
		t.Fatalf("PreviousCardUID = %q", res.PreviousCardUID)
	}
	if got, _ := b.Resolve(ctx, "OLD"); got != nil {
		t.Fatalf("old card still resolves to %d", *got)
	}
}

func TestBindValidation(t *testing.T) {
	db := newTestDB(t)
	b := NewBinder(db, nil, nil)
	ctx := context.Background()

	if _, err := b.Bind(ctx, BindRequest{MemberID: 99, CardUID: "AA"}); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("unknown member: err = %v", err)
	}
	ada := seedMember(t, db, "Ada")
	if _, err := b.Bind(ctx, BindRequest{MemberID: ada, CardUID: "  "}); !errors.Is(err, ErrEmptyCardUID) {
		t.Fatalf("empty uid: err = %v", err)
	}
}

func TestUnbind(t *testing.T) {
	db := newTestDB(t)
	b := NewBinder(db, nil, nil)
	ctx := context.Background()
	ada := seedMember(t, db, "Ada")

	if uid, err := b.Unbind(ctx, ada); err != nil || uid != "" {
		t.Fatalf("unbind without card = %q, %v", uid, err)
	}
	if _, err := b.Bind(ctx, BindRequest{MemberID: ada, CardUID: "AA"}); err != nil {
		t.Fatal(err)
	}
	uid, err := b.Unbind(ctx, ada)
	if err != nil || uid != "AA" {
		t.Fatalf("Unbind = %q, %v", uid, err)
	}
	if got, _ := b.Resolve(ctx, "AA"); got != nil {
		t.Fatal("card still bound after unbind")
	}
}
