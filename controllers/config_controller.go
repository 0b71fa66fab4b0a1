package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/clubcheckin/config"
	"github.com/cppla/clubcheckin/utils"
)

// ConfigController serves environment-driven dashboard configuration.
type ConfigController struct{}

func NewConfigController() *ConfigController { return &ConfigController{} }

// GetDashboard tells dashboards where to reach the API and the gateway and how often to poll.
func (c *ConfigController) GetDashboard(ctx *gin.Context) {
	cfg := config.Get()
	utils.Success(ctx, gin.H{
		"apiBaseUrl":           cfg.PublicBaseURL,
		"gatewayUrl":           cfg.GatewayURL,
		"streamPath":           "/api/v1/checkins/stream",
		"websocketPath":        "/api/v1/checkins/ws",
		"pollIntervalMs":       cfg.PollIntervalMillis,
		"healthPollIntervalMs": cfg.GatewayProbeInterval().Milliseconds(),
		"debounceMs":           cfg.DebounceMillis,
	})
}
