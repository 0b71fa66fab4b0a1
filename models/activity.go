package models

import "time"

// Activity is a club event that check-ins can be attributed to.
type Activity struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	StartTime     *time.Time `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	AttendeeCount int64      `gorm:"not null;default:0" json:"attendee_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AttendanceRecord is created the first time a member is checked in to an activity.
type AttendanceRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EventID     uint      `gorm:"uniqueIndex:idx_attendance_event_member;not null" json:"eventId"`
	MemberID    uint      `gorm:"uniqueIndex:idx_attendance_event_member;index;not null" json:"memberId"`
	CheckinID   string    `gorm:"size:64;not null" json:"checkinId"`
	CheckInTime time.Time `gorm:"not null" json:"checkInTime"`
	CreatedAt   time.Time `json:"created_at"`
}
