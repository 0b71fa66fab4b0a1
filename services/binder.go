package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/clubcheckin/models"
)

// RetroactiveReader prefixes the reader name of check-ins the binder
// re-submits right after a bind. It keeps them out of the debounce window of
// the unbound scan that prompted the bind.
const RetroactiveReader = "card-binding"

// retroactiveReader scopes the debounce key to the member, so moving a card
// to another member inside the window still checks the new member in.
func retroactiveReader(memberID uint) string {
	return RetroactiveReader + ":" + strconv.FormatUint(uint64(memberID), 10)
}

// Submitter is the ingestion pipeline as seen by the binder.
type Submitter interface {
	Submit(ctx context.Context, ev *models.CheckinEvent) (*SubmitResult, error)
}

// BindRequest asks to bind CardUID to MemberID.
type BindRequest struct {
	MemberID   uint
	CardUID    string
	Override   bool
	EventID    *uint
	ReaderName string
}

// BindResult reports what a bind changed.
type BindResult struct {
	Binding          models.MemberCardBinding `json:"binding"`
	Changed          bool                     `json:"changed"`
	PreviousMemberID *uint                    `json:"previousMemberId,omitempty"`
	PreviousCardUID  string                   `json:"previousCardUid,omitempty"`
	Retroactive      *SubmitResult            `json:"retroactive,omitempty"`
	RetroactiveError string                   `json:"retroactiveError,omitempty"`
}

// Binder owns the card to member mapping.
type Binder struct {
	db       *gorm.DB
	sessions *Sessions
	log      *zap.Logger
	pipeline Submitter

	// binds are rare; one writer at a time keeps the two unique indexes consistent
	mu sync.Mutex
}

// NewBinder creates a binder. AttachPipeline must be called before binds can trigger retroactive check-ins.
func NewBinder(db *gorm.DB, sessions *Sessions, log *zap.Logger) *Binder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Binder{db: db, sessions: sessions, log: log}
}

// AttachPipeline wires the ingestion pipeline used for retroactive check-ins.
func (b *Binder) AttachPipeline(p Submitter) {
	b.pipeline = p
}

// Resolve returns the member currently bound to cardUID, or nil when the card is unbound.
func (b *Binder) Resolve(ctx context.Context, cardUID string) (*uint, error) {
	uid := NormalizeCardUID(cardUID)
	if uid == "" {
		return nil, nil
	}
	var binding models.MemberCardBinding
	err := b.db.WithContext(ctx).Where("card_uid = ?", uid).First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := binding.MemberID
	return &id, nil
}

// Bind maps a card to a member. Binding the same pair twice is a no-op.
// A card held by another member is only taken over with Override set.
func (b *Binder) Bind(ctx context.Context, req BindRequest) (*BindResult, error) {
	uid := NormalizeCardUID(req.CardUID)
	if uid == "" {
		return nil, ErrEmptyCardUID
	}

	b.mu.Lock()
	result, err := b.bindLocked(ctx, req.MemberID, uid, req.Override)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if result.Changed {
		b.log.Info("card bound",
			zap.String("card_uid", uid),
			zap.Uint("member_id", req.MemberID),
			zap.Bool("override", result.PreviousMemberID != nil))
		b.retroactive(ctx, req, uid, result)
	}
	return result, nil
}

func (b *Binder) bindLocked(ctx context.Context, memberID uint, uid string, override bool) (*BindResult, error) {
	result := &BindResult{}
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member models.Member
		if err := tx.Select("id").First(&member, memberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}

		var current models.MemberCardBinding
		err := tx.Where("card_uid = ?", uid).First(&current).Error
		switch {
		case err == nil && current.MemberID == memberID:
			result.Binding = current
			return nil
		case err == nil && !override:
			return &BindConflictError{CardUID: uid, CurrentMember: current.MemberID}
		case err == nil:
			prev := current.MemberID
			result.PreviousMemberID = &prev
			if err := tx.Delete(&current).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var old models.MemberCardBinding
		err = tx.Where("member_id = ?", memberID).First(&old).Error
		if err == nil {
			result.PreviousCardUID = old.CardUID
			if err := tx.Delete(&old).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		result.Binding = models.MemberCardBinding{MemberID: memberID, CardUID: uid, BoundAt: time.Now()}
		result.Changed = true
		return tx.Create(&result.Binding).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retroactive re-enters the pipeline for the selected activity so the member need not re-scan.
func (b *Binder) retroactive(ctx context.Context, req BindRequest, uid string, result *BindResult) {
	if b.pipeline == nil {
		return
	}
	eventID := req.EventID
	if eventID == nil && b.sessions != nil {
		selected, err := b.sessions.Selected(ctx, req.ReaderName)
		if err != nil {
			b.log.Warn("session lookup failed for retroactive check-in", zap.Error(err))
		}
		eventID = selected
	}
	if eventID == nil {
		return
	}

	memberID := req.MemberID
	ev := &models.CheckinEvent{
		CardUID:    uid,
		Source:     models.SourceManual,
		ReaderName: retroactiveReader(memberID),
		MemberID:   &memberID,
		EventID:    eventID,
		Notes:      "retroactive check-in after card binding",
	}
	res, err := b.pipeline.Submit(ctx, ev)
	if err != nil {
		b.log.Error("retroactive check-in failed", zap.String("card_uid", uid), zap.Error(err))
		result.RetroactiveError = err.Error()
		return
	}
	result.Retroactive = res
}

// Unbind removes the member's card binding. It reports the removed card, or "" when none existed.
func (b *Binder) Unbind(ctx context.Context, memberID uint) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var binding models.MemberCardBinding
	err := b.db.WithContext(ctx).Where("member_id = ?", memberID).First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := b.db.WithContext(ctx).Delete(&binding).Error; err != nil {
		return "", err
	}
	b.log.Info("card unbound", zap.String("card_uid", binding.CardUID), zap.Uint("member_id", memberID))
	return binding.CardUID, nil
}

// Member loads a member by id.
func (b *Binder) Member(ctx context.Context, id uint) (*models.Member, error) {
	var m models.Member
	err := b.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
