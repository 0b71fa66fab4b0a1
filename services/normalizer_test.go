package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cppla/clubcheckin/models"
)

func TestNormalizeShapeInvariance(t *testing.T) {
	at := time.Date(2024, 3, 1, 18, 30, 0, 0, time.Local)

	shapes := []struct {
		name string
		raw  map[string]any
	}{
		{
			name: "relational row",
			raw: map[string]any{
				"id":            float64(42),
				"card_uid":      "04:a1:b2:c3",
				"check_in_time": "2024-03-01 18:30:00",
				"reader_name":   "Front Desk",
				"member_id":     float64(7),
				"event_id":      float64(3),
			},
		},
		{
			name: "document",
			raw: map[string]any{
				"_id":        map[string]any{"$oid": "42"},
				"cardUid":    "04:A1:B2:C3",
				"timestamp":  "2024-03-01T18:30:00",
				"readerName": "Front Desk",
				"memberId":   "7",
				"eventId":    json.Number("3"),
			},
		},
		{
			name: "gateway push",
			raw: map[string]any{
				"lastID":      "42",
				"lastCardUid": " 04:a1:B2:c3 ",
				"time":        float64(at.UnixMilli()),
				"reader":      "Front Desk",
				"memberId":    float64(7),
				"eventId":     float64(3),
			},
		},
	}

	for _, tt := range shapes {
		t.Run(tt.name, func(t *testing.T) {
			ev := Normalize(tt.raw)
			if ev == nil {
				t.Fatal("Normalize returned nil")
			}
			if ev.ID != "42" {
				t.Errorf("ID = %q, want 42", ev.ID)
			}
			if ev.CardUID != "04:A1:B2:C3" {
				t.Errorf("CardUID = %q", ev.CardUID)
			}
			if !ev.OccurredAt.Equal(at) {
				t.Errorf("OccurredAt = %v, want %v", ev.OccurredAt, at)
			}
			if ev.ReaderName != "Front Desk" {
				t.Errorf("ReaderName = %q", ev.ReaderName)
			}
			if ev.MemberID == nil || *ev.MemberID != 7 {
				t.Errorf("MemberID = %v, want 7", ev.MemberID)
			}
			if ev.EventID == nil || *ev.EventID != 3 {
				t.Errorf("EventID = %v, want 3", ev.EventID)
			}
			if ev.Source != models.SourceGateway {
				t.Errorf("Source = %q", ev.Source)
			}
		})
	}
}

func TestNormalizeRejectsUnknownShapes(t *testing.T) {
	cases := []map[string]any{
		nil,
		{},
		{"id": "1", "time": "2024-03-01T18:30:00Z"},
		{"cardUid": "   "},
		{"cardUid": true},
	}
	for i, raw := range cases {
		if ev := Normalize(raw); ev != nil {
			t.Errorf("case %d: Normalize(%v) = %+v, want nil", i, raw, ev)
		}
	}
}

func TestNormalizeTimes(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want time.Time
	}{
		{"rfc3339", "2024-03-01T18:30:00Z", time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)},
		{"rfc3339 nano", "2024-03-01T18:30:00.250Z", time.Date(2024, 3, 1, 18, 30, 0, 250e6, time.UTC)},
		{"unix seconds", float64(1709317800), time.Unix(1709317800, 0)},
		{"unix millis", float64(1709317800123), time.UnixMilli(1709317800123)},
		{"numeric string", "1709317800", time.Unix(1709317800, 0)},
		{"extended json", map[string]any{"$date": "2024-03-01T18:30:00Z"}, time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			ev := Normalize(map[string]any{"uid": "AA", "createdAt": tt.v})
			if ev == nil {
				t.Fatal("nil event")
			}
			if !ev.OccurredAt.Equal(tt.want) {
				t.Errorf("OccurredAt = %v, want %v", ev.OccurredAt, tt.want)
			}
		})
	}

	ev := Normalize(map[string]any{"uid": "AA", "time": "yesterday"})
	if ev == nil || !ev.OccurredAt.IsZero() {
		t.Errorf("unparsable time should leave OccurredAt zero, got %+v", ev)
	}
}

func TestNormalizeSource(t *testing.T) {
	if ev := Normalize(map[string]any{"uid": "AA", "source": "manual"}); ev.Source != models.SourceManual {
		t.Errorf("Source = %q, want manual", ev.Source)
	}
	if ev := Normalize(map[string]any{"uid": "AA", "source": "bluetooth"}); ev.Source != models.SourceGateway {
		t.Errorf("unknown source should default to gateway, got %q", ev.Source)
	}
}

func TestParseRef(t *testing.T) {
	cases := []struct {
		in     any
		want   uint
		isNil  bool
		wantOK bool
	}{
		{nil, 0, true, true},
		{"", 0, true, true},
		{float64(5), 5, false, true},
		{"12", 12, false, true},
		{"abc", 0, true, false},
		{float64(0), 0, true, false},
		{float64(1.5), 0, true, false},
	}
	for _, tt := range cases {
		got, ok := ParseRef(tt.in)
		if ok != tt.wantOK {
			t.Errorf("ParseRef(%v) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if tt.isNil != (got == nil) {
			t.Errorf("ParseRef(%v) = %v", tt.in, got)
			continue
		}
		if got != nil && *got != tt.want {
			t.Errorf("ParseRef(%v) = %d, want %d", tt.in, *got, tt.want)
		}
	}
}
