// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"chatvault/db/models"
)

// Open returns a migrated sqlite database in a per-test temp directory.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := gdb.AutoMigrate(
		&models.ArchiveEntry{},
		&models.ActivityFact{},
		&models.Balance{},
	); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return gdb
}
