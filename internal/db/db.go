package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/repochat/internal/catalog"
	"github.com/suPer8Hu/repochat/internal/chat"
)

const sqlitePrefix = "sqlite:"

// Connect opens the store. DSNs starting with "sqlite:" open a SQLite file (or
// "sqlite::memory:"); anything else is a MySQL DSN.
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		if path == "" {
			return nil, fmt.Errorf("db: empty sqlite path")
		}
		gdb, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		// one writer at a time; also keeps ":memory:" a single database
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	}

	gdb, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("db: open mysql: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return gdb, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&catalog.Project{}, &chat.Session{}, &chat.Message{})
}
