package repository

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/leafscan/internal/logging"
)

// ErrScanNotFound is returned when no scan has the requested id.
var ErrScanNotFound = errors.New("scan not found")

// Scan is one persisted upload and its classification outcome. Rows are
// append-only: the store assigns ID and CreatedAt and nothing updates them.
type Scan struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Filename       string    `gorm:"column:filename;size:255;not null"`
	FilePath       *string   `gorm:"column:file_path;size:512"`
	PredictedClass *string   `gorm:"column:predicted_class;size:255"`
	Confidence     *float64  `gorm:"column:confidence;check:chk_scans_confidence,confidence >= 0 AND confidence <= 1"`
	FileHash       *string   `gorm:"column:file_hash;size:64;index"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default table name.
func (Scan) TableName() string {
	return "scans"
}

// ScanSummary aggregates the scans table.
type ScanSummary struct {
	TotalScans        int64
	ClassifiedScans   int64
	AverageConfidence float64
	ByClass           map[string]int64
}

// StorageError reports a failed store operation. Inserts that fail with a
// StorageError have been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func newStorageError(logger *zap.Logger, op string, err error) error {
	wrapped := logging.NewOperationError("repository."+op, "", err)
	logger.Error("scan store operation failed", zap.Error(wrapped))
	return &StorageError{Op: op, Err: wrapped}
}
