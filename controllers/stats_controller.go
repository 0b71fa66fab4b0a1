package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/clubcheckin/models"
	"github.com/cppla/clubcheckin/services"
	"github.com/cppla/clubcheckin/utils"
)

// StatsController provides attendance statistics per activity.
type StatsController struct {
	db         *gorm.DB
	reconciler *services.Reconciler
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, reconciler *services.Reconciler) *StatsController {
	return &StatsController{db: db, reconciler: reconciler}
}

// GetAttendance returns the attendee count and records of one activity.
func (s *StatsController) GetAttendance(ctx *gin.Context) {
	id, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	var act models.Activity
	if err := s.db.WithContext(ctx.Request.Context()).First(&act, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40460, "activity not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50080, "failed to load activity")
		return
	}

	records, err := s.reconciler.Attendance(ctx.Request.Context(), id)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50081, "failed to list attendance")
		return
	}

	utils.Success(ctx, gin.H{
		"activity":       act,
		"attendee_count": act.AttendeeCount,
		"records":        records,
	})
}
