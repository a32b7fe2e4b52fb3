package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScanRepository persists scans through gorm on PostgreSQL or SQLite.
type ScanRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewScanRepository creates a new repository instance.
func NewScanRepository(db *gorm.DB, logger *zap.Logger) *ScanRepository {
	return &ScanRepository{db: db, logger: logger.Named("scan_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *ScanRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Scan{})
}

// Close releases the underlying database handle.
func (r *ScanRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertScan creates scan inside a transaction. The store assigns ID and
// CreatedAt at insert time; any CreatedAt set by the caller is replaced.
func (r *ScanRepository) InsertScan(ctx context.Context, scan *Scan) error {
	scan.ID = 0
	scan.CreatedAt = time.Time{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(scan).Error
	})
	if err != nil {
		return r.fail("insert_scan", err)
	}
	return nil
}

// ListScans returns every scan, newest id first.
func (r *ScanRepository) ListScans(ctx context.Context) ([]Scan, error) {
	scans := make([]Scan, 0)
	if err := r.db.WithContext(ctx).Order("id DESC").Find(&scans).Error; err != nil {
		return nil, r.fail("list_scans", err)
	}
	return scans, nil
}

// FindScanByID loads a single scan.
func (r *ScanRepository) FindScanByID(ctx context.Context, id int64) (*Scan, error) {
	var scan Scan
	if err := r.db.WithContext(ctx).First(&scan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, r.fail("find_scan", err)
	}
	return &scan, nil
}

// SummarizeScans aggregates counts and confidence over all scans.
func (r *ScanRepository) SummarizeScans(ctx context.Context) (*ScanSummary, error) {
	var totals struct {
		TotalScans        int64
		ClassifiedScans   int64
		AverageConfidence float64
	}
	err := r.db.WithContext(ctx).Model(&Scan{}).
		Select("COUNT(*) AS total_scans, COUNT(predicted_class) AS classified_scans, COALESCE(AVG(confidence), 0) AS average_confidence").
		Scan(&totals).Error
	if err != nil {
		return nil, r.fail("summarize_scans", err)
	}

	var classes []struct {
		PredictedClass string
		Count          int64
	}
	err = r.db.WithContext(ctx).Model(&Scan{}).
		Select("predicted_class, COUNT(*) AS count").
		Where("predicted_class IS NOT NULL").
		Group("predicted_class").
		Scan(&classes).Error
	if err != nil {
		return nil, r.fail("summarize_scans", err)
	}

	summary := &ScanSummary{
		TotalScans:        totals.TotalScans,
		ClassifiedScans:   totals.ClassifiedScans,
		AverageConfidence: totals.AverageConfidence,
		ByClass:           make(map[string]int64, len(classes)),
	}
	for _, c := range classes {
		summary.ByClass[c.PredictedClass] = c.Count
	}
	return summary, nil
}

func (r *ScanRepository) fail(op string, err error) error {
	return newStorageError(r.logger, op, err)
}
