package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/clubcheckin/services"
	"github.com/cppla/clubcheckin/utils"
)

// MemberController manages card bindings.
type MemberController struct {
	binder *services.Binder
}

// NewMemberController creates a MemberController.
func NewMemberController(binder *services.Binder) *MemberController {
	return &MemberController{binder: binder}
}

// BindCard binds a card to the member in the path. A card held by another
// member needs override=true; the 409 response names the current holder.
func (m *MemberController) BindCard(ctx *gin.Context) {
	memberID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		CardUID    string `json:"cardUid" binding:"required,carduid"`
		Override   bool   `json:"override"`
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

	res, err := m.binder.Bind(ctx.Request.Context(), services.BindRequest{
		MemberID:   memberID,
		CardUID:    req.CardUID,
		Override:   req.Override,
		EventID:    eventID,
		ReaderName: utils.SanitizeText(req.ReaderName, 128),
	})
	if err != nil {
		respondError(ctx, err, 50070)
		return
	}
	msg := "card bound"
	if !res.Changed {
		msg = "card already bound to this member"
	}
	utils.SuccessMessage(ctx, msg, res)
}

// UnbindCard removes the member's card binding.
func (m *MemberController) UnbindCard(ctx *gin.Context) {
	memberID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}
	uid, err := m.binder.Unbind(ctx.Request.Context(), memberID)
	if err != nil {
		respondError(ctx, err, 50071)
		return
	}
	if uid == "" {
		utils.Error(ctx, http.StatusNotFound, 40462, "member has no bound card")
		return
	}
	utils.SuccessMessage(ctx, "card unbound", gin.H{"memberId": memberID, "cardUid": uid})
}

// ByCard resolves a card UID to its member.
func (m *MemberController) ByCard(ctx *gin.Context) {
	uid := services.NormalizeCardUID(ctx.Param("uid"))
	if uid == "" {
		utils.Error(ctx, http.StatusBadRequest, 40061, "cardUid is required")
		return
	}
	memberID, err := m.binder.Resolve(ctx.Request.Context(), uid)
	if err != nil {
		respondError(ctx, err, 50072)
		return
	}
	if memberID == nil {
		utils.Success(ctx, gin.H{"cardUid": uid, "bound": false})
		return
	}
	member, err := m.binder.Member(ctx.Request.Context(), *memberID)
	if err != nil {
		respondError(ctx, err, 50072)
		return
	}
	utils.Success(ctx, gin.H{"cardUid": uid, "bound": true, "memberId": member.ID, "name": member.Name})
}
