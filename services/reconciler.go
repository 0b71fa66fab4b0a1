package services

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/clubcheckin/models"
)

// ReconcileResult describes the attendance record a check-in maps to.
// Created is false when another check-in already produced it.
type ReconcileResult struct {
	Record  models.AttendanceRecord `json:"record"`
	Created bool                    `json:"created"`
}

// Reconciler turns attributed check-ins into attendance records, at most one per (activity, member).
type Reconciler struct {
	db  *gorm.DB
	log *zap.Logger
}

var errUnknownActivity = errors.New("unknown activity")

// NewReconciler creates a reconciler.
func NewReconciler(db *gorm.DB, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{db: db, log: log}
}

// Reconcile returns nil without error when the event has no activity or no
// member, or when the activity does not exist; the ledger row stays available
// for manual reconciliation in those cases.
func (r *Reconciler) Reconcile(ctx context.Context, ev *models.CheckinEvent) (*ReconcileResult, error) {
	if ev.EventID == nil || ev.MemberID == nil {
		return nil, nil
	}

	var result ReconcileResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var act models.Activity
		if err := tx.Select("id").First(&act, *ev.EventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errUnknownActivity
			}
			return err
		}

		rec := models.AttendanceRecord{
			EventID:     *ev.EventID,
			MemberID:    *ev.MemberID,
			CheckinID:   ev.ID,
			CheckInTime: ev.OccurredAt,
		}
		// the unique (event_id, member_id) index makes check-then-create one atomic step
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "member_id"}},
			DoNothing: true,
		}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected > 0 {
			result = ReconcileResult{Record: rec, Created: true}
			return tx.Model(&models.Activity{}).
				Where("id = ?", *ev.EventID).
				UpdateColumn("attendee_count", gorm.Expr("attendee_count + 1")).Error
		}

		// lost the race or a repeat visit: the winner's record is the outcome
		var existing models.AttendanceRecord
		if err := tx.Where("event_id = ? AND member_id = ?", *ev.EventID, *ev.MemberID).First(&existing).Error; err != nil {
			return err
		}
		result = ReconcileResult{Record: existing, Created: false}
		return nil
	})
	if errors.Is(err, errUnknownActivity) {
		r.log.Warn("check-in references unknown activity",
			zap.String("checkin_id", ev.ID), zap.Uint("event_id", *ev.EventID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Attendance lists records for an activity, oldest first.
func (r *Reconciler) Attendance(ctx context.Context, eventID uint) ([]models.AttendanceRecord, error) {
	var recs []models.AttendanceRecord
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("check_in_time ASC").Find(&recs).Error
	return recs, err
}
