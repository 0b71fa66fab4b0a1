package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// QRIdentity is what a scanned QR code points at: a member or a card.
type QRIdentity struct {
	MemberID *uint
	CardUID  string
}

var qrMemberKeys = []string{"memberId", "member_id", "userId", "user_id", "id"}

// ParseQRPayload accepts a JSON object naming a member or card, or a bare
// positive integer member id (optionally JSON-quoted).
func ParseQRPayload(payload string) (QRIdentity, error) {
	s := strings.TrimSpace(payload)
	if s == "" {
		return QRIdentity{}, fmt.Errorf("%w: empty qr payload", ErrInvalidPayload)
	}

	if strings.HasPrefix(s, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return QRIdentity{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		s = strings.TrimSpace(inner)
	}

	if strings.HasPrefix(s, "{") {
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return QRIdentity{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if id := firstUint(obj, qrMemberKeys); id != nil {
			return QRIdentity{MemberID: id}, nil
		}
		if uid := NormalizeCardUID(firstString(obj, cardUIDKeys)); uid != "" {
			return QRIdentity{CardUID: uid}, nil
		}
		return QRIdentity{}, fmt.Errorf("%w: qr object names no member or card", ErrInvalidPayload)
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return QRIdentity{}, fmt.Errorf("%w: %q is neither json nor a member number", ErrInvalidPayload, payload)
	}
	id := uint(n)
	return QRIdentity{MemberID: &id}, nil
}

// qrTokenUID is the card UID recorded for a member QR code, so debounce and
// per-token history work the same way as for physical cards.
func qrTokenUID(memberID uint) string {
	return "QR:" + strconv.FormatUint(uint64(memberID), 10)
}
