package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/clubcheckin/services"
	"github.com/cppla/clubcheckin/utils"
)

// GatewayController exposes the local gateway adapter's health and reader controls.
type GatewayController struct {
	monitor *services.GatewayMonitor
}

// NewGatewayController creates a GatewayController.
func NewGatewayController(monitor *services.GatewayMonitor) *GatewayController {
	return &GatewayController{monitor: monitor}
}

// Status returns the latest probe result, probing once if none exists yet.
func (g *GatewayController) Status(ctx *gin.Context) {
	snap, ok := g.monitor.Snapshot()
	if !ok {
		snap = g.monitor.Probe(ctx.Request.Context())
	}
	utils.Success(ctx, snap)
}

// Start asks the gateway to start its reader.
func (g *GatewayController) Start(ctx *gin.Context) {
	snap, err := g.monitor.StartReader(ctx.Request.Context())
	if err != nil {
		utils.ErrorWithData(ctx, http.StatusBadGateway, 50260, "local gateway is offline, start the gateway service", snap)
		return
	}
	utils.SuccessMessage(ctx, "reader starting", snap)
}

// Stop asks the gateway to stop its reader.
func (g *GatewayController) Stop(ctx *gin.Context) {
	snap, err := g.monitor.StopReader(ctx.Request.Context())
	if err != nil {
		utils.ErrorWithData(ctx, http.StatusBadGateway, 50260, "local gateway is offline, start the gateway service", snap)
		return
	}
	utils.SuccessMessage(ctx, "reader stopped", snap)
}
