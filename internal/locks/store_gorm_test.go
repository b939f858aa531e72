package locks

import (
	"context"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestGormStoreAcquireRetriesWhenRacingRowIsExpired(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate lock table: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	clock := newFakeClock()
	now := clock.Now()
	inserted := false
	err = db.Callback().Create().Before("gorm:create").Register("test:insert_expired_row", func(tx *gorm.DB) {
		if inserted || tx.Statement.Table != "canvas_locks" {
			return
		}
		inserted = true
		stale := now.Add(-DefaultTTL)
		if err := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO canvas_locks (canvas_id, session_id, locked, locked_at_ms, expires_at_ms) VALUES (?, ?, ?, ?, ?)",
			"canvas-1", "session-b", true, stale.UnixMilli(), now.Add(-1).UnixMilli(),
		).Error; err != nil {
			t.Errorf("failed to insert racing row: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	service := newTestService(t, NewGormStore(db), clock, nil)
	lock, err := service.Acquire(context.Background(), "canvas-1", "session-a")
	if err != nil {
		t.Fatalf("expected acquire to succeed over the expired row, got %v", err)
	}
	if !inserted {
		t.Fatalf("expected the racing insert to run")
	}
	if lock.SessionID != "session-a" || !lock.Live(now) {
		t.Fatalf("unexpected lock %#v", lock)
	}
	current, live, err := service.Status(context.Background(), "canvas-1")
	if err != nil || !live || current.SessionID != "session-a" {
		t.Fatalf("expected session-a to hold the lock, got %#v live=%v err=%v", current, live, err)
	}
}
