package controllers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"
	"gorm.io/gorm"

	"github.com/cppla/clubcheckin/models"
	"github.com/cppla/clubcheckin/services"
	"github.com/cppla/clubcheckin/utils"
)

// CheckinController exposes the ingestion entry points, polling reads and live streams.
type CheckinController struct {
	db          *gorm.DB
	ingestor    *services.Ingestor
	sessions    *services.Sessions
	broadcaster *services.Broadcaster
	ws          *melody.Melody
	keepAlive   time.Duration
}

// NewCheckinController creates a CheckinController. ws may be nil to disable the WebSocket transport.
func NewCheckinController(db *gorm.DB, ing *services.Ingestor, sessions *services.Sessions, b *services.Broadcaster, ws *melody.Melody) *CheckinController {
	return &CheckinController{
		db:          db,
		ingestor:    ing,
		sessions:    sessions,
		broadcaster: b,
		ws:          ws,
		keepAlive:   15 * time.Second,
	}
}

func respondSubmit(ctx *gin.Context, res *services.SubmitResult) {
	switch {
	case !res.Accepted:
		utils.SuccessMessage(ctx, "ignored: "+res.Reason, res)
	case res.Unidentified:
		utils.SuccessMessage(ctx, "checked in (unidentified card, please bind)", res)
	default:
		utils.SuccessMessage(ctx, "checked in", res)
	}
}

// SubmitGateway accepts a raw payload in any of the known shapes.
func (c *CheckinController) SubmitGateway(ctx *gin.Context) {
	var raw map[string]any
	if err := ctx.ShouldBindJSON(&raw); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid request payload")
		return
	}
	res, err := c.ingestor.SubmitGateway(ctx.Request.Context(), raw)
	if err != nil {
		respondError(ctx, err, 50060)
		return
	}
	respondSubmit(ctx, res)
}

// SubmitQR accepts a scanned QR payload.
func (c *CheckinController) SubmitQR(ctx *gin.Context) {
	var req struct {
		Payload    string `json:"payload" binding:"required"`
		EventID    any    `json:"eventId"`
		ReaderName string `json:"readerName"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid request payload")
		return
	}
	eventID, ok := services.ParseRef(req.EventID)
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40062, "invalid eventId")
		return
	}
	res, err := c.ingestor.SubmitQR(ctx.Request.Context(), req.Payload, eventID, req.ReaderName)
	if err != nil {
		respondError(ctx, err, 50061)
		return
	}
	respondSubmit(ctx, res)
}

// SubmitManual accepts an operator-typed card UID.
func (c *CheckinController) SubmitManual(ctx *gin.Context) {
	var req struct {
		CardUID     string `json:"cardUid" binding:"required,carduid"`
		DisplayName string `json:"displayName"`
		Notes       string `json:"notes"`
		EventID     any    `json:"eventId"`
		ReaderName  string `json:"readerName"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40061, "cardUid is required")
		return
	}
	eventID, ok := services.ParseRef(req.EventID)
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40062, "invalid eventId")
		return
	}
	res, err := c.ingestor.SubmitManual(ctx.Request.Context(), services.ManualEntry{
		CardUID:     req.CardUID,
		DisplayName: req.DisplayName,
		Notes:       req.Notes,
		EventID:     eventID,
		ReaderName:  req.ReaderName,
	})
	if err != nil {
		respondError(ctx, err, 50062)
		return
	}
	respondSubmit(ctx, res)
}

// Last returns the latest accepted check-in.
func (c *CheckinController) Last(ctx *gin.Context) {
	ev, err := c.ingestor.Last(ctx.Request.Context())
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50063, "failed to load last check-in")
		return
	}
	if ev == nil {
		utils.Error(ctx, http.StatusNotFound, 40463, "no check-ins yet")
		return
	}
	utils.Success(ctx, ev)
}

// Recent lists check-ins newest first.
func (c *CheckinController) Recent(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	events, err := c.ingestor.Recent(ctx.Request.Context(), limit)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50064, "failed to list check-ins")
		return
	}
	utils.Success(ctx, gin.H{"items": events, "count": len(events)})
}

// Unidentified lists check-ins that still need a card binding.
func (c *CheckinController) Unidentified(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	events, err := c.ingestor.Unidentified(ctx.Request.Context(), limit)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50065, "failed to list unidentified check-ins")
		return
	}
	utils.Success(ctx, gin.H{"items": events, "count": len(events)})
}

// Stream pushes accepted check-ins as server-sent events until the client leaves.
func (c *CheckinController) Stream(ctx *gin.Context) {
	sub := c.broadcaster.Subscribe()
	defer sub.Close()

	ctx.Header("Content-Type", sse.ContentType)
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	ctx.Render(-1, sse.Event{Event: "ready", Data: gin.H{"subscribers": c.broadcaster.Subscribers()}})
	ctx.Writer.Flush()

	done := ctx.Request.Context().Done()
	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case msg, ok := <-sub.C():
			if !ok {
				return false
			}
			ctx.Render(-1, sse.Event{Id: msg.Event.ID, Event: msg.Type, Data: msg})
			return true
		case <-ticker.C:
			_, err := fmt.Fprint(w, ": keepalive\n\n")
			return err == nil
		}
	})
}

// WebSocket upgrades the request and joins the broadcast set.
func (c *CheckinController) WebSocket(ctx *gin.Context) {
	if c.ws == nil {
		utils.Error(ctx, http.StatusNotFound, 40464, "websocket transport disabled")
		return
	}
	if err := c.ws.HandleRequest(ctx.Writer, ctx.Request); err != nil {
		utils.Sugar.Warnf("websocket upgrade failed: %v", err)
	}
}

// SelectSession attributes future check-ins from a reader to an activity.
func (c *CheckinController) SelectSession(ctx *gin.Context) {
	var req struct {
		ReaderName string `json:"readerName"`
		EventID    any    `json:"eventId" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid request payload")
		return
	}
	eventID, ok := services.ParseRef(req.EventID)
	if !ok || eventID == nil {
		utils.Error(ctx, http.StatusBadRequest, 40062, "invalid eventId")
		return
	}

	var act models.Activity
	if err := c.db.WithContext(ctx.Request.Context()).Select("id", "title").First(&act, *eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40460, "activity not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50066, "failed to load activity")
		return
	}

	reader := utils.SanitizeText(req.ReaderName, 128)
	if err := c.sessions.Select(ctx.Request.Context(), reader, act.ID); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50067, "failed to store session")
		return
	}
	utils.Success(ctx, gin.H{"readerName": reader, "eventId": act.ID, "title": act.Title})
}

// GetSession returns the activity a reader is attributed to.
func (c *CheckinController) GetSession(ctx *gin.Context) {
	reader := utils.SanitizeText(ctx.Query("reader"), 128)
	id, err := c.sessions.Selected(ctx.Request.Context(), reader)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50068, "failed to load session")
		return
	}
	utils.Success(ctx, gin.H{"readerName": reader, "eventId": id})
}

// ClearSession stops attributing a reader's check-ins to an activity.
func (c *CheckinController) ClearSession(ctx *gin.Context) {
	reader := utils.SanitizeText(ctx.Query("reader"), 128)
	if err := c.sessions.Clear(ctx.Request.Context(), reader); err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50069, "failed to clear session")
		return
	}
	utils.SuccessMessage(ctx, "session cleared", gin.H{"readerName": reader})
}
