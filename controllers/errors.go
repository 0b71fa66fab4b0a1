package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/cppla/clubcheckin/services"
	"github.com/cppla/clubcheckin/utils"
)

// respondError maps service errors to status and application code.
// fallback is the 5xx code used when the error is not a known one.
func respondError(ctx *gin.Context, err error, fallback int) {
	var conflict *services.BindConflictError
	switch {
	case errors.As(err, &conflict):
		utils.ErrorWithData(ctx, http.StatusConflict, 40960, "card already bound to another member", gin.H{
			"cardUid":         conflict.CardUID,
			"currentMemberId": conflict.CurrentMember,
		})
	case errors.Is(err, services.ErrInvalidPayload):
		utils.Error(ctx, http.StatusBadRequest, 40060, err.Error())
	case errors.Is(err, services.ErrEmptyCardUID):
		utils.Error(ctx, http.StatusBadRequest, 40061, "cardUid is required")
	case errors.Is(err, services.ErrMemberNotFound):
		utils.Error(ctx, http.StatusNotFound, 40461, "member not found")
	case errors.Is(err, services.ErrGatewayUnreachable):
		utils.Error(ctx, http.StatusBadGateway, 50260, "local gateway is offline, start the gateway service")
	case errors.Is(err, services.ErrImmutableCheckin):
		utils.Error(ctx, http.StatusConflict, 40961, err.Error())
	default:
		utils.Error(ctx, http.StatusInternalServerError, fallback, "internal error")
	}
}

func parseIDParam(ctx *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || n == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40062, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}

// RegisterValidators installs the custom binding tags used by request structs.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}
	return v.RegisterValidation("carduid", validCardUID)
}

// carduid: non-blank, at most 64 characters, printable.
func validCardUID(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
