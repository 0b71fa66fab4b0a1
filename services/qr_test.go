package services

import (
	"errors"
	"testing"
)

func TestParseQRPayload(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		member  uint
		card    string
		wantErr bool
	}{
		{name: "member object", payload: `{"memberId": 12}`, member: 12},
		{name: "user object with string id", payload: `{"userId": "34"}`, member: 34},
		{name: "snake case", payload: `{"member_id": 5, "eventId": 2}`, member: 5},
		{name: "plain id key", payload: `{"id": 9}`, member: 9},
		{name: "card object", payload: `{"cardUid": "04:ab:cd"}`, card: "04:AB:CD"},
		{name: "bare number", payload: "77", member: 77},
		{name: "quoted number", payload: `"77"`, member: 77},
		{name: "quoted object", payload: `"{\"memberId\": 8}"`, member: 8},
		{name: "padded", payload: "  15\n", member: 15},
		{name: "not json not a number", payload: "not-json-not-a-number", wantErr: true},
		{name: "empty", payload: "  ", wantErr: true},
		{name: "zero", payload: "0", wantErr: true},
		{name: "negative", payload: "-3", wantErr: true},
		{name: "decimal", payload: "3.5", wantErr: true},
		{name: "object without identity", payload: `{"foo": "bar"}`, wantErr: true},
		{name: "broken json", payload: `{"memberId": `, wantErr: true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQRPayload(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("err = %v, want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.member != 0 {
				if got.MemberID == nil || *got.MemberID != tt.member {
					t.Fatalf("MemberID = %v, want %d", got.MemberID, tt.member)
				}
				return
			}
			if got.CardUID != tt.card {
				t.Fatalf("CardUID = %q, want %q", got.CardUID, tt.card)
			}
		})
	}
}

func TestQRTokenUID(t *testing.T) {
	if got := qrTokenUID(42); got != "QR:42" {
		t.Fatalf("qrTokenUID = %q", got)
	}
}
