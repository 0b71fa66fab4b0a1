package main

import (
	"context"

	"github.com/olahol/melody"

	"github.com/cppla/clubcheckin/config"
	"github.com/cppla/clubcheckin/jobs"
	"github.com/cppla/clubcheckin/models"
	"github.com/cppla/clubcheckin/routes"
	"github.com/cppla/clubcheckin/services"
	"github.com/cppla/clubcheckin/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync()
	log := utils.Logger

	db := config.InitDatabase(
		&models.Member{},
		&models.MemberCardBinding{},
		&models.Activity{},
		&models.CheckinEvent{},
		&models.AttendanceRecord{},
	)

	// nil when Redis is not configured; every consumer then keeps state in memory
	rc := utils.GetRedis()

	sessions := services.NewSessions(rc, cfg.SessionTTL())
	guard := services.NewGuard(services.GuardOptions{
		Redis:    rc,
		Debounce: cfg.DebounceWindow(),
		IDWindow: cfg.DedupWindow(),
		MaxIDs:   cfg.DedupMaxIDs,
		Logger:   log.Named("dedup"),
	})
	binder := services.NewBinder(db, sessions, log.Named("binder"))
	reconciler := services.NewReconciler(db, log.Named("reconciler"))

	ws := melody.New()
	broadcaster := services.NewBroadcaster(64, log.Named("broadcast"))
	broadcaster.AttachMelody(ws)

	ingestor := services.NewIngestor(services.IngestorDeps{
		DB:          db,
		Guard:       guard,
		Binder:      binder,
		Reconciler:  reconciler,
		Sessions:    sessions,
		Broadcaster: broadcaster,
		Summarizer:  services.NewSummarizer(db, utils.NewCache(rc, "checkin:summary:")),
		Logger:      log.Named("ingest"),
	})
	gateway := services.NewGatewayMonitor(cfg.GatewayURL, cfg.GatewayTimeout(), log.Named("gateway"))

	scheduler := jobs.New(log)
	if err := jobs.InitCronJobs(scheduler, jobs.Options{
		Gateway:       gateway,
		ProbeInterval: cfg.GatewayProbeInterval(),
		Guard:         guard,
	}, log); err != nil {
		utils.Sugar.Fatalf("failed to start cron jobs: %v", err)
	}

	accessLog, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err != nil {
		utils.Sugar.Warnf("gin access log disabled: %v", err)
		accessLog = nil
	}

	r := routes.SetupRouter(routes.Deps{
		Config:      cfg,
		DB:          db,
		Ingestor:    ingestor,
		Binder:      binder,
		Reconciler:  reconciler,
		Sessions:    sessions,
		Broadcaster: broadcaster,
		Gateway:     gateway,
		Melody:      ws,
		AccessLog:   accessLog,
	})

	stopCron := func(ctx context.Context) {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	closeStreams := func(context.Context) { broadcaster.Close() }

	utils.Sugar.Infof("Starting check-in service on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, stopCron, closeStreams); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
