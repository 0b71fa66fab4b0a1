package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Check-in sources.
const (
	SourceGateway = "gateway"
	SourceQR      = "qr"
	SourceManual  = "manual"
)

// ErrImmutableCheckin is returned when something tries to update an accepted check-in.
var ErrImmutableCheckin = errors.New("check-in events are append-only")

// CheckinEvent is the canonical, storage-agnostic check-in record.
// Rows are written once by the ingestion pipeline and never updated.
type CheckinEvent struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	CardUID      string    `gorm:"index;size:64;not null" json:"cardUid"`
	Source       string    `gorm:"size:16;not null" json:"source"`
	OccurredAt   time.Time `gorm:"index;not null" json:"occurredAt"`
	ReceivedAt   time.Time `gorm:"index;not null" json:"receivedAt"`
	ReaderName   string    `gorm:"size:128" json:"readerName,omitempty"`
	MemberID     *uint     `gorm:"index" json:"memberRef,omitempty"`
	EventID      *uint     `gorm:"index" json:"eventRef,omitempty"`
	DisplayName  string    `gorm:"size:128" json:"displayName,omitempty"`
	Notes        string    `gorm:"size:512" json:"notes,omitempty"`
	Unidentified bool      `gorm:"index;not null;default:false" json:"unidentified"`
	CreatedAt    time.Time `json:"-"`
}

// BeforeUpdate keeps the ledger append-only.
func (c *CheckinEvent) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableCheckin
}
