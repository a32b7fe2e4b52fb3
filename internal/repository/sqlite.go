package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens (creating if needed) an embedded SQLite database at path
// and migrates it. The returned repository owns the handle; call Close.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*ScanRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		// Failures are logged through zap by the repository.
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("accessing sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writes serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to sqlite database: %w", err)
	}

	repo := NewScanRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating sqlite database: %w", err)
	}
	return repo, nil
}
