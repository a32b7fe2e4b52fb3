package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/leafscan/internal/classifier"
	"github.com/example/leafscan/internal/imageprocessor"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/repository"
)

// TimestampLayout renders created_at in listings.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultPublicPrefix is the URL path stored uploads are served under.
const DefaultPublicPrefix = "/uploads"

const scanCacheTTL = 10 * time.Minute

// ScanRepository defines the persistence operations needed by the use case.
type ScanRepository interface {
	InsertScan(ctx context.Context, scan *repository.Scan) error
	ListScans(ctx context.Context) ([]repository.Scan, error)
	FindScanByID(ctx context.Context, id int64) (*repository.Scan, error)
	SummarizeScans(ctx context.Context) (*repository.ScanSummary, error)
}

// FileStorage keeps the raw uploads.
type FileStorage interface {
	Save(filename string, data []byte) (string, error)
	Delete(filename string) error
}

// Preprocessor turns upload bytes into a classifier input.
type Preprocessor interface {
	Preprocess(data []byte) (*imageprocessor.Tensor, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// State is a step of the scan lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateHashed       State = "hashed"
	StateDuplicate    State = "duplicate"
	StateStored       State = "stored"
	StatePreprocessed State = "preprocessed"
	StateClassified   State = "classified"
	StatePersisted    State = "persisted"
	StateFailed       State = "failed"
)

// Result is the successful outcome of Scan: *NewScan or *DuplicateScan.
type Result interface {
	isResult()
}

// NewScan is a freshly classified and persisted upload.
type NewScan struct {
	Scan     repository.Scan
	FileHash string
}

// DuplicateScan references the earlier scan of byte-identical content.
type DuplicateScan struct {
	Existing repository.Scan
	FileHash string
}

func (*NewScan) isResult()       {}
func (*DuplicateScan) isResult() {}

// ScanRecord is the outward view of a persisted scan.
type ScanRecord struct {
	ID             int64    `json:"id"`
	Filename       string   `json:"filename"`
	FilePath       *string  `json:"file_path"`
	PredictedClass *string  `json:"predicted_class"`
	Confidence     *float64 `json:"confidence"`
	CreatedAt      string   `json:"created_at"`
}

// NewScanRecord renders a stored scan for callers.
func NewScanRecord(scan repository.Scan) ScanRecord {
	return ScanRecord{
		ID:             scan.ID,
		Filename:       scan.Filename,
		FilePath:       scan.FilePath,
		PredictedClass: scan.PredictedClass,
		Confidence:     scan.Confidence,
		CreatedAt:      scan.CreatedAt.UTC().Format(TimestampLayout),
	}
}

// ScanUseCase runs the scan-intake pipeline.
type ScanUseCase struct {
	repo         ScanRepository
	detector     DuplicateDetector
	files        FileStorage
	preprocessor Preprocessor
	classifier   classifier.Classifier
	labels       classifier.Labels
	cache        Cache
	clock        Clock
	publicPrefix string
	logger       *zap.Logger

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option customizes a ScanUseCase.
type Option func(*ScanUseCase)

// WithDuplicateDetector replaces the default linear detector.
func WithDuplicateDetector(d DuplicateDetector) Option {
	return func(uc *ScanUseCase) { uc.detector = d }
}

// WithClock sets the time source used for upload file names.
func WithClock(c Clock) Option {
	return func(uc *ScanUseCase) { uc.clock = c }
}

// WithCache enables the read-through cache for single-scan lookups.
func WithCache(c Cache) Option {
	return func(uc *ScanUseCase) { uc.cache = c }
}

// WithPublicPrefix sets the path prefix recorded in file_path.
func WithPublicPrefix(prefix string) Option {
	return func(uc *ScanUseCase) { uc.publicPrefix = strings.TrimSuffix(prefix, "/") }
}

// NewScanUseCase constructs a new use case instance.
func NewScanUseCase(repo ScanRepository, files FileStorage, preprocessor Preprocessor, clf classifier.Classifier, labels classifier.Labels, logger *zap.Logger, opts ...Option) *ScanUseCase {
	uc := &ScanUseCase{
		repo:           repo,
		detector:       NewLinearDuplicateDetector(repo),
		files:          files,
		preprocessor:   preprocessor,
		classifier:     clf,
		labels:         labels,
		clock:          systemClock{},
		publicPrefix:   DefaultPublicPrefix,
		logger:         logger.Named("scan_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// UploadFilename names a stored upload after its arrival second.
func UploadFilename(t time.Time) string {
	return fmt.Sprintf("scan_%d.jpg", t.Unix())
}

// Scan deduplicates, stores, classifies and persists one upload. Steps are
// never retried. If persisting fails the stored file stays on disk.
func (uc *ScanUseCase) Scan(ctx context.Context, data []byte) (Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.scan", requestID)
	enter := func(state State) {
		opLogger.Debug("scan state", zap.String("state", string(state)))
	}
	fail := func(kind ErrorKind, stage Stage, err error) error {
		enter(StateFailed)
		opLogger.Error("scan failed",
			zap.String("kind", string(kind)),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
		return &ScanError{Kind: kind, Stage: stage, RequestID: requestID, Err: err}
	}

	enter(StateReceived)
	if len(data) == 0 {
		return nil, fail(KindMissingInput, StageReceive, ErrEmptyUpload)
	}

	digest := Digest(data)
	enter(StateHashed)

	existing, err := uc.detector.FindDuplicate(ctx, digest)
	if err != nil {
		return nil, fail(KindStorage, StageDuplicateCheck, err)
	}
	if existing != nil {
		enter(StateDuplicate)
		opLogger.Info("duplicate upload detected", zap.Int64("existing_scan_id", existing.ID), zap.String("file_hash", digest))
		return &DuplicateScan{Existing: *existing, FileHash: digest}, nil
	}

	filename, err := uc.files.Save(UploadFilename(uc.clock.Now()), data)
	if err != nil {
		return nil, fail(KindStorage, StageStoreFile, logging.NewOperationError("usecase.store_file", requestID, err))
	}
	filePath := uc.publicPrefix + "/" + filename
	enter(StateStored)
	opLogger.Info("stored upload", zap.String("filename", filename), zap.Int("bytes", len(data)))

	tensor, err := uc.preprocessor.Preprocess(data)
	if err != nil {
		if delErr := uc.files.Delete(filename); delErr != nil {
			opLogger.Warn("failed to remove undecodable upload", zap.String("filename", filename), zap.Error(delErr))
		}
		return nil, fail(KindDecode, StagePreprocess, err)
	}
	enter(StatePreprocessed)

	scores, err := uc.classifier.Predict(ctx, tensor)
	if err != nil {
		return nil, fail(KindInference, StageClassify, err)
	}
	prediction, err := classifier.Top(scores, uc.labels)
	if err != nil {
		return nil, fail(KindInference, StageClassify, err)
	}
	enter(StateClassified)
	opLogger.Info("classified upload",
		zap.String("predicted_class", prediction.Class),
		zap.Float64("confidence", prediction.Confidence),
	)

	scan := &repository.Scan{
		Filename:       filename,
		FilePath:       &filePath,
		PredictedClass: &prediction.Class,
		Confidence:     &prediction.Confidence,
		FileHash:       &digest,
	}
	if err := uc.repo.InsertScan(ctx, scan); err != nil {
		opLogger.Warn("upload left on disk after failed insert", zap.String("filename", filename))
		return nil, fail(KindStorage, StagePersist, err)
	}
	enter(StatePersisted)
	opLogger.Info("scan persisted", zap.Int64("scan_id", scan.ID), zap.String("file_hash", digest))

	return &NewScan{Scan: *scan, FileHash: digest}, nil
}

// ListScans returns every scan, newest first.
func (uc *ScanUseCase) ListScans(ctx context.Context) ([]ScanRecord, error) {
	scans, err := uc.repo.ListScans(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]ScanRecord, 0, len(scans))
	for _, scan := range scans {
		records = append(records, NewScanRecord(scan))
	}
	return records, nil
}

// GetScan loads one scan, reading through the cache when one is configured.
// Scans are immutable, so cached entries never go stale.
func (uc *ScanUseCase) GetScan(ctx context.Context, id int64) (*ScanRecord, error) {
	requestID := fmt.Sprintf("scan-%d", id)
	opLogger := logging.WithOperation(uc.logger, "usecase.get_scan", requestID)
	cacheKey := fmt.Sprintf("scan:%d", id)

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, requestID, "cache.get.scan", cacheKey)
		switch {
		case err == nil:
			var record ScanRecord
			decodeErr := json.Unmarshal([]byte(cached), &record)
			if decodeErr == nil {
				return &record, nil
			}
			opLogger.Warn("failed to decode cached scan", zap.Error(decodeErr))
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	scan, err := uc.repo.FindScanByID(ctx, id)
	if err != nil {
		return nil, err
	}
	record := NewScanRecord(*scan)

	if uc.cache != nil {
		serialized, err := json.Marshal(record)
		if err != nil {
			opLogger.Warn("failed to serialize scan", zap.Error(err))
			return &record, nil
		}
		if err := uc.withRedisRetry(ctx, requestID, "cache.set.scan", func() error {
			return uc.cache.Set(ctx, cacheKey, string(serialized), scanCacheTTL)
		}); err != nil {
			opLogger.Warn("failed to cache scan", zap.Error(err))
		}
	}
	return &record, nil
}
