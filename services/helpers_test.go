package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/clubcheckin/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Member{},
		&models.MemberCardBinding{},
		&models.Activity{},
		&models.CheckinEvent{},
		&models.AttendanceRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedMember(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	m := models.Member{Name: name}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return m.ID
}

func seedActivity(t *testing.T, db *gorm.DB, title string) uint {
	t.Helper()
	a := models.Activity{Title: title}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed activity: %v", err)
	}
	return a.ID
}

type pipeline struct {
	db          *gorm.DB
	guard       *Guard
	binder      *Binder
	reconciler  *Reconciler
	sessions    *Sessions
	broadcaster *Broadcaster
	ingestor    *Ingestor
}

// newTestPipeline wires the full ingestion path with in-memory state and synchronous publishing.
func newTestPipeline(t *testing.T, db *gorm.DB) *pipeline {
	t.Helper()
	p := &pipeline{db: db}
	p.sessions = NewSessions(nil, time.Hour)
	p.guard = NewGuard(GuardOptions{Debounce: 3 * time.Second})
	p.binder = NewBinder(db, p.sessions, nil)
	p.reconciler = NewReconciler(db, nil)
	p.broadcaster = NewBroadcaster(16, nil)
	p.ingestor = NewIngestor(IngestorDeps{
		DB:          db,
		Guard:       p.guard,
		Binder:      p.binder,
		Reconciler:  p.reconciler,
		Sessions:    p.sessions,
		Broadcaster: p.broadcaster,
		Summarizer:  NewSummarizer(db, nil),
	})
	p.ingestor.async = false
	t.Cleanup(p.broadcaster.Close)
	return p
}

func uintPtr(v uint) *uint { return &v }

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
