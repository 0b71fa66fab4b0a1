package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/cppla/clubcheckin/models"
	"github.com/cppla/clubcheckin/utils"
)

const summaryTTL = 5 * time.Minute

// Summarizer builds live push messages, looking up member and activity names.
type Summarizer struct {
	db    *gorm.DB
	cache *utils.Cache
}

// NewSummarizer creates a summarizer. cache may be nil.
func NewSummarizer(db *gorm.DB, cache *utils.Cache) *Summarizer {
	return &Summarizer{db: db, cache: cache}
}

// Message enriches ev. Lookup failures leave the summary out instead of failing the push.
func (s *Summarizer) Message(ctx context.Context, ev models.CheckinEvent, att *ReconcileResult) Message {
	msg := Message{
		Type:              "checkin",
		Event:             ev,
		Unidentified:      ev.MemberID == nil,
		AttendanceCreated: att != nil && att.Created,
	}
	if msg.Unidentified {
		msg.Alert = UnidentifiedAlert
	}

	g, gctx := errgroup.WithContext(ctx)
	if ev.MemberID != nil {
		g.Go(func() error {
			m, err := s.member(gctx, *ev.MemberID)
			msg.Member = m
			return err
		})
	}
	if ev.EventID != nil {
		g.Go(func() error {
			a, err := s.activity(gctx, *ev.EventID)
			msg.Activity = a
			return err
		})
	}
	_ = g.Wait()
	return msg
}

func (s *Summarizer) member(ctx context.Context, id uint) (*MemberSummary, error) {
	key := "member:" + strconv.FormatUint(uint64(id), 10)
	var sum MemberSummary
	if s.cache.GetJSON(ctx, key, &sum) {
		return &sum, nil
	}
	var m models.Member
	if err := s.db.WithContext(ctx).Select("id", "name").First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sum = MemberSummary{ID: m.ID, Name: m.Name}
	s.cache.SetJSON(ctx, key, sum, summaryTTL)
	return &sum, nil
}

func (s *Summarizer) activity(ctx context.Context, id uint) (*ActivitySummary, error) {
	key := "activity:" + strconv.FormatUint(uint64(id), 10)
	var sum ActivitySummary
	if s.cache.GetJSON(ctx, key, &sum) {
		return &sum, nil
	}
	var a models.Activity
	if err := s.db.WithContext(ctx).Select("id", "title").First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sum = ActivitySummary{ID: a.ID, Title: a.Title}
	s.cache.SetJSON(ctx, key, sum, summaryTTL)
	return &sum, nil
}
