package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"codejanitor/internal/infrastructure/persistence/sqlite/model"
)

func setupSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "cache.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.KV{}); err != nil {
		t.Fatalf("auto migrate kv: %v", err)
	}
	return NewSQLiteCache(db)
}

func TestSQLiteCacheSetGetDelete(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "sync:last_run:PROJ", "2026-02-14T10:00:00Z", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, found, err := cache.Get(ctx, "sync:last_run:PROJ")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "2026-02-14T10:00:00Z" {
		t.Fatalf("Get() = %q, found=%v", value, found)
	}

	if err := cache.Set(ctx, "sync:last_run:PROJ", "2026-02-14T11:00:00Z", 0); err != nil {
		t.Fatalf("Set(update) error = %v", err)
	}
	value, found, err = cache.Get(ctx, "sync:last_run:PROJ")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "2026-02-14T11:00:00Z" {
		t.Fatalf("Get() after update = %q, found=%v", value, found)
	}

	if err := cache.Delete(ctx, "sync:last_run:PROJ"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, err = cache.Get(ctx, "sync:last_run:PROJ"); err != nil || found {
		t.Fatalf("Get() after delete found=%v err=%v", found, err)
	}
}

func TestSQLiteCacheExpiresEntries(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }

	if err := cache.Set(ctx, "scheduler:last_cycle", "{}", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, found, err := cache.Get(ctx, "scheduler:last_cycle"); err != nil || !found {
		t.Fatalf("Get() before expiry found=%v err=%v", found, err)
	}

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, found, err := cache.Get(ctx, "scheduler:last_cycle"); err != nil || found {
		t.Fatalf("Get() after expiry found=%v err=%v", found, err)
	}

	if err := cache.Set(ctx, "scheduler:last_cycle", "{}", 0); err != nil {
		t.Fatalf("Set(no ttl) error = %v", err)
	}
	if _, found, err := cache.Get(ctx, "scheduler:last_cycle"); err != nil || !found {
		t.Fatalf("Get() after reset found=%v err=%v", found, err)
	}
}

func TestSQLiteCacheRejectsEmptyKey(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, " ", "v", 0); err == nil {
		t.Fatalf("Set() expected error for empty key")
	}
	if _, _, err := cache.Get(ctx, ""); err == nil {
		t.Fatalf("Get() expected error for empty key")
	}
	if err := cache.Delete(ctx, ""); err == nil {
		t.Fatalf("Delete() expected error for empty key")
	}
}
