package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/clubcheckin/models"
	"github.com/cppla/clubcheckin/utils"
)

// SubmitResult is returned synchronously to whoever submitted a check-in.
type SubmitResult struct {
	Accepted     bool                 `json:"accepted"`
	Reason       string               `json:"reason,omitempty"`
	Event        *models.CheckinEvent `json:"event,omitempty"`
	Attendance   *ReconcileResult     `json:"attendance,omitempty"`
	Unidentified bool                 `json:"unidentified"`
}

// ManualEntry is an operator-typed check-in used when hardware is down.
type ManualEntry struct {
	CardUID     string
	DisplayName string
	Notes       string
	EventID     *uint
	ReaderName  string
}

// Ingestor is the single pipeline behind every entry point:
// normalize, dedup, resolve identity, persist, reconcile, broadcast.
type Ingestor struct {
	db          *gorm.DB
	guard       *Guard
	binder      *Binder
	reconciler  *Reconciler
	sessions    *Sessions
	broadcaster *Broadcaster
	summarizer  *Summarizer
	log         *zap.Logger
	now         func() time.Time
	async       bool
}

// IngestorDeps groups the collaborators of an Ingestor.
type IngestorDeps struct {
	DB          *gorm.DB
	Guard       *Guard
	Binder      *Binder
	Reconciler  *Reconciler
	Sessions    *Sessions
	Broadcaster *Broadcaster
	Summarizer  *Summarizer
	Logger      *zap.Logger
}

// NewIngestor wires the pipeline and attaches itself to the binder for retroactive check-ins.
func NewIngestor(d IngestorDeps) *Ingestor {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	ing := &Ingestor{
		db:          d.DB,
		guard:       d.Guard,
		binder:      d.Binder,
		reconciler:  d.Reconciler,
		sessions:    d.Sessions,
		broadcaster: d.Broadcaster,
		summarizer:  d.Summarizer,
		log:         d.Logger,
		now:         time.Now,
		async:       true,
	}
	if d.Binder != nil {
		d.Binder.AttachPipeline(ing)
	}
	return ing
}

// SubmitGateway ingests a payload pushed by (or on behalf of) the local gateway adapter.
// The gateway is not trusted to assert identities; members come from the binder only.
func (i *Ingestor) SubmitGateway(ctx context.Context, raw map[string]any) (*SubmitResult, error) {
	ev := Normalize(raw)
	if ev == nil {
		return nil, fmt.Errorf("%w: no card uid in gateway payload", ErrInvalidPayload)
	}
	ev.Source = models.SourceGateway
	ev.MemberID = nil
	if err := i.attachSession(ctx, ev); err != nil {
		return nil, err
	}
	return i.Submit(ctx, ev)
}

// SubmitQR ingests a camera scan. Unparsable payloads and unknown members fail
// with ErrInvalidPayload before anything is recorded.
func (i *Ingestor) SubmitQR(ctx context.Context, payload string, eventID *uint, reader string) (*SubmitResult, error) {
	qr, err := ParseQRPayload(payload)
	if err != nil {
		return nil, err
	}

	ev := &models.CheckinEvent{
		Source:     models.SourceQR,
		ReaderName: utils.SanitizeText(reader, 128),
		EventID:    eventID,
	}
	if qr.MemberID != nil {
		if _, err := i.binder.Member(ctx, *qr.MemberID); err != nil {
			if errors.Is(err, ErrMemberNotFound) {
				return nil, fmt.Errorf("%w: qr code references unknown member %d", ErrInvalidPayload, *qr.MemberID)
			}
			return nil, err
		}
		ev.MemberID = qr.MemberID
		ev.CardUID = qrTokenUID(*qr.MemberID)
	} else {
		ev.CardUID = qr.CardUID
	}
	if err := i.attachSession(ctx, ev); err != nil {
		return nil, err
	}
	return i.Submit(ctx, ev)
}

// SubmitManual ingests an operator entry. Any non-empty card UID is accepted.
func (i *Ingestor) SubmitManual(ctx context.Context, in ManualEntry) (*SubmitResult, error) {
	uid := NormalizeCardUID(in.CardUID)
	if uid == "" {
		return nil, ErrEmptyCardUID
	}
	ev := &models.CheckinEvent{
		CardUID:     uid,
		Source:      models.SourceManual,
		ReaderName:  utils.SanitizeText(in.ReaderName, 128),
		DisplayName: utils.SanitizeText(in.DisplayName, 128),
		Notes:       utils.SanitizeText(in.Notes, 512),
		EventID:     in.EventID,
	}
	if err := i.attachSession(ctx, ev); err != nil {
		return nil, err
	}
	return i.Submit(ctx, ev)
}

// attachSession fills in the activity the operator selected for this reader.
func (i *Ingestor) attachSession(ctx context.Context, ev *models.CheckinEvent) error {
	if ev.EventID != nil || i.sessions == nil {
		return nil
	}
	id, err := i.sessions.Selected(ctx, ev.ReaderName)
	if err != nil {
		// a broken session store must not stop check-ins; they can be attributed later
		i.log.Warn("session lookup failed", zap.String("reader", ev.ReaderName), zap.Error(err))
		return nil
	}
	ev.EventID = id
	return nil
}

// MaxRefLen is the longest check-in id or card uid the ledger columns hold.
const MaxRefLen = 64

// Submit runs a canonical event through dedup, identity resolution,
// persistence, reconciliation and broadcast. Dedup rejections are returned as
// a result with Accepted=false, not as errors.
func (i *Ingestor) Submit(ctx context.Context, ev *models.CheckinEvent) (*SubmitResult, error) {
	ev.CardUID = NormalizeCardUID(ev.CardUID)
	if ev.CardUID == "" {
		return nil, ErrEmptyCardUID
	}
	if !validSource(ev.Source) {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidPayload, ev.Source)
	}
	if len(ev.ID) > MaxRefLen {
		return nil, fmt.Errorf("%w: id longer than %d characters", ErrInvalidPayload, MaxRefLen)
	}
	if len(ev.CardUID) > MaxRefLen {
		return nil, fmt.Errorf("%w: card uid longer than %d characters", ErrInvalidPayload, MaxRefLen)
	}
	ev.ReceivedAt = i.now()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = ev.ReceivedAt
	}

	if d := i.guard.Accept(ctx, ev); !d.Accepted {
		i.log.Info("check-in suppressed",
			zap.String("reason", d.Reason),
			zap.String("checkin_id", ev.ID),
			zap.String("card_uid", ev.CardUID),
			zap.String("reader", ev.ReaderName))
		return &SubmitResult{Accepted: false, Reason: d.Reason}, nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if ev.MemberID == nil {
		member, err := i.binder.Resolve(ctx, ev.CardUID)
		if err != nil {
			i.guard.Forget(ctx, ev)
			return nil, fmt.Errorf("resolve card %s: %w", ev.CardUID, err)
		}
		ev.MemberID = member
	}
	ev.Unidentified = ev.MemberID == nil

	res := i.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		i.guard.Forget(ctx, ev)
		return nil, fmt.Errorf("persist check-in: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// the guard forgot this id (restart or LRU eviction) but the ledger did not
		i.log.Info("check-in suppressed", zap.String("reason", ReasonDuplicateID), zap.String("checkin_id", ev.ID))
		return &SubmitResult{Accepted: false, Reason: ReasonDuplicateID}, nil
	}

	result := &SubmitResult{Accepted: true, Event: ev, Unidentified: ev.Unidentified}
	if ev.Unidentified {
		i.log.Warn("unidentified card checked in", zap.String("checkin_id", ev.ID), zap.String("card_uid", ev.CardUID))
	}

	att, err := i.reconciler.Reconcile(ctx, ev)
	if err != nil {
		// the ledger row is written; attendance can be reconciled from it later
		i.log.Error("attendance reconciliation failed", zap.String("checkin_id", ev.ID), zap.Error(err))
	}
	result.Attendance = att

	i.publish(ctx, *ev, att)
	return result, nil
}

func (i *Ingestor) publish(ctx context.Context, ev models.CheckinEvent, att *ReconcileResult) {
	if i.broadcaster == nil {
		return
	}
	send := func(ctx context.Context) {
		var msg Message
		if i.summarizer != nil {
			msg = i.summarizer.Message(ctx, ev, att)
		} else {
			msg = Message{Type: "checkin", Event: ev, Unidentified: ev.Unidentified}
		}
		i.broadcaster.Publish(msg)
	}
	if !i.async {
		send(ctx)
		return
	}
	// the response must not wait for dashboards
	go send(context.WithoutCancel(ctx))
}

// Last returns the most recently received check-in, or nil when the ledger is empty.
func (i *Ingestor) Last(ctx context.Context) (*models.CheckinEvent, error) {
	var ev models.CheckinEvent
	err := i.db.WithContext(ctx).Order("received_at DESC").Order("created_at DESC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Recent lists check-ins newest first. limit is clamped to 1..100.
func (i *Ingestor) Recent(ctx context.Context, limit int) ([]models.CheckinEvent, error) {
	return i.list(ctx, limit, false)
}

// Unidentified lists check-ins whose card had no member, newest first.
func (i *Ingestor) Unidentified(ctx context.Context, limit int) ([]models.CheckinEvent, error) {
	return i.list(ctx, limit, true)
}

func (i *Ingestor) list(ctx context.Context, limit int, unidentified bool) ([]models.CheckinEvent, error) {
	limit = ClampLimit(limit)
	q := i.db.WithContext(ctx).Model(&models.CheckinEvent{})
	if unidentified {
		q = q.Where("unidentified = ?", true)
	}
	events := make([]models.CheckinEvent, 0, limit)
	err := q.Order("received_at DESC").Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// ClampLimit maps a requested page size into 1..100, defaulting to 20.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	}
	return limit
}
