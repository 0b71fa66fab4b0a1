package models

import (
	"time"

	"gorm.io/gorm"
)

// Member is a club member. Member administration lives elsewhere; this
// service only reads the table.
type Member struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"size:128;not null" json:"name"`
	Status    string         `gorm:"size:32;default:active" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// MemberCardBinding maps one card to one member. Both sides are unique, so a
// rebind must remove the previous rows first.
type MemberCardBinding struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	MemberID uint      `gorm:"uniqueIndex;not null" json:"memberId"`
	CardUID  string    `gorm:"uniqueIndex;size:64;not null" json:"cardUid"`
	BoundAt  time.Time `gorm:"not null" json:"boundAt"`
}
