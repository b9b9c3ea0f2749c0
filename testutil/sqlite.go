// Package testutil opens throwaway sqlite databases wired like production.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/models"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupDB opens a private in-memory database, installs the tenant guard, migrates every
// table and makes it the global handle for the duration of the test.
func SetupDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	cfg := config.InitConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	if err := db.Use(config.NewTenantGuardPlugin()); err != nil {
		t.Fatalf("tenant guard: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	prev := config.GetDB()
	config.SetDB(db)
	config.SetRedisClient(nil)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}

// TenantContext is a request context for tenantId acting as a test user.
func TenantContext(tenantId string) context.Context {
	ctx := utils.SetTenantIdInContext(context.Background(), tenantId)
	ctx = utils.SetUserIdInContext(ctx, "user-1")
	return utils.SetUserNameInContext(ctx, "Test")
}

// FreezeClock pins models.Now until the test ends.
func FreezeClock(t testing.TB, now time.Time) {
	t.Helper()
	prev := models.Now
	models.Now = func() time.Time { return now }
	t.Cleanup(func() { models.Now = prev })
}

func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
