package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cppla/clubcheckin/models"
)

// Field-priority lists per logical attribute. The first key holding a usable
// value wins, so relational rows (snake_case), document-store records
// (camelCase, _id) and live gateway pushes (lastID, lastCardUid) all map to
// the same canonical record.
var (
	idKeys          = []string{"id", "_id", "lastID", "lastId", "checkinId"}
	cardUIDKeys     = []string{"cardUid", "cardUID", "card_uid", "uid", "lastCardUid", "lastCardUID", "cardId", "card_id"}
	occurredAtKeys  = []string{"occurredAt", "occurred_at", "check_in_time", "checkin_time", "checkInTime", "timestamp", "time", "detectedAt", "scannedAt", "created_at", "createdAt"}
	readerKeys      = []string{"readerName", "reader_name", "reader"}
	memberKeys      = []string{"memberRef", "memberId", "member_id", "userId", "user_id"}
	eventKeys       = []string{"eventRef", "eventId", "event_id", "activityId", "activity_id"}
	displayNameKeys = []string{"displayName", "display_name", "name"}
	notesKeys       = []string{"notes", "note"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// Normalize converts a raw check-in payload in any known shape into a
// canonical event. It returns nil when no card UID can be found. The returned
// ID may be empty; the pipeline assigns one on acceptance.
func Normalize(raw map[string]any) *models.CheckinEvent {
	if raw == nil {
		return nil
	}
	uid := NormalizeCardUID(firstString(raw, cardUIDKeys))
	if uid == "" {
		return nil
	}

	ev := &models.CheckinEvent{
		ID:          firstString(raw, idKeys),
		CardUID:     uid,
		Source:      models.SourceGateway,
		ReaderName:  strings.TrimSpace(firstString(raw, readerKeys)),
		DisplayName: strings.TrimSpace(firstString(raw, displayNameKeys)),
		Notes:       strings.TrimSpace(firstString(raw, notesKeys)),
		MemberID:    firstUint(raw, memberKeys),
		EventID:     firstUint(raw, eventKeys),
	}
	if src, ok := raw["source"].(string); ok && validSource(src) {
		ev.Source = src
	}
	for _, k := range occurredAtKeys {
		if t, ok := parseTime(raw[k]); ok {
			ev.OccurredAt = t
			break
		}
	}
	return ev
}

// NormalizeCardUID trims and upper-cases a card identifier so "04:a1:b2" and " 04:A1:B2 " collide.
func NormalizeCardUID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func validSource(s string) bool {
	switch s {
	case models.SourceGateway, models.SourceQR, models.SourceManual:
		return true
	}
	return false
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if s := scalarString(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case map[string]any:
		// extended JSON object id: {"$oid": "..."}
		if oid, ok := t["$oid"].(string); ok {
			return strings.TrimSpace(oid)
		}
	}
	return ""
}

func firstUint(raw map[string]any, keys []string) *uint {
	for _, k := range keys {
		s := scalarString(raw[k])
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		id := uint(n)
		return &id
	}
	return nil
}

// parseTime accepts RFC3339-ish strings, SQL datetimes, Unix seconds or
// milliseconds, and extended JSON {"$date": ...}.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return ts, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(f)
		}
	case float64:
		return unixTime(t)
	case int64:
		return unixTime(float64(t))
	case int:
		return unixTime(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return unixTime(f)
		}
	case map[string]any:
		if d, ok := t["$date"]; ok {
			return parseTime(d)
		}
	}
	return time.Time{}, false
}

func unixTime(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	// anything past year 2286 in seconds is really milliseconds
	if f > 1e10 {
		return time.UnixMilli(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// ParseRef reads an optional numeric reference sent as a number or a string.
// ok is false when v is present but not a positive integer.
func ParseRef(v any) (ref *uint, ok bool) {
	if v == nil {
		return nil, true
	}
	s := scalarString(v)
	if s == "" {
		return nil, true
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return nil, false
	}
	id := uint(n)
	return &id, true
}
