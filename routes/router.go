package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/clubcheckin/config"
	"github.com/cppla/clubcheckin/controllers"
	"github.com/cppla/clubcheckin/middleware"
	"github.com/cppla/clubcheckin/services"
	"github.com/cppla/clubcheckin/utils"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	Config      config.AppConfig
	DB          *gorm.DB
	Ingestor    *services.Ingestor
	Binder      *services.Binder
	Reconciler  *services.Reconciler
	Sessions    *services.Sessions
	Broadcaster *services.Broadcaster
	Gateway     *services.GatewayMonitor
	Melody      *melody.Melody
	// AccessLog receives gin access and panic logs; nil falls back to gin.Recovery
	AccessLog *zap.Logger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	if err := controllers.RegisterValidators(); err != nil {
		utils.Sugar.Warnf("custom validators not registered: %v", err)
	}

	r := gin.New()
	if d.AccessLog != nil {
		r.Use(utils.Ginzap(d.AccessLog, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(d.AccessLog, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	checkinController := controllers.NewCheckinController(d.DB, d.Ingestor, d.Sessions, d.Broadcaster, d.Melody)
	memberController := controllers.NewMemberController(d.Binder)
	gatewayController := controllers.NewGatewayController(d.Gateway)
	statsController := controllers.NewStatsController(d.DB, d.Reconciler)
	configController := controllers.NewConfigController()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	api := r.Group("/api/v1")
	api.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok", "subscribers": d.Broadcaster.Subscribers()})
	})

	checkins := api.Group("/checkins")
	ingest := checkins.Group("", limiter.Middleware())
	ingest.POST("/gateway", checkinController.SubmitGateway)
	ingest.POST("/qr", checkinController.SubmitQR)
	ingest.POST("/manual", checkinController.SubmitManual)
	checkins.GET("/last", checkinController.Last)
	checkins.GET("/recent", checkinController.Recent)
	checkins.GET("/unidentified", checkinController.Unidentified)
	checkins.GET("/stream", checkinController.Stream)
	checkins.GET("/ws", checkinController.WebSocket)
	checkins.PUT("/session", checkinController.SelectSession)
	checkins.GET("/session", checkinController.GetSession)
	checkins.DELETE("/session", checkinController.ClearSession)

	members := api.Group("/members")
	members.POST("/:id/bind-card", limiter.Middleware(), memberController.BindCard)
	members.DELETE("/:id/bind-card", memberController.UnbindCard)
	members.GET("/by-card/:uid", memberController.ByCard)

	gateway := api.Group("/gateway")
	gateway.GET("/status", gatewayController.Status)
	gateway.POST("/start", gatewayController.Start)
	gateway.POST("/stop", gatewayController.Stop)

	api.GET("/activities/:id/attendance", statsController.GetAttendance)
	api.GET("/config/dashboard", configController.GetDashboard)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
