package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/example/leafscan/internal/repository"
)

// Digest fingerprints the upload exactly as received, before any decoding.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DuplicateDetector finds an earlier scan with the same digest.
// A nil scan and nil error means no duplicate.
type DuplicateDetector interface {
	FindDuplicate(ctx context.Context, digest string) (*repository.Scan, error)
}

// ScanLister is the read dependency of LinearDuplicateDetector.
type ScanLister interface {
	ListScans(ctx context.Context) ([]repository.Scan, error)
}

// LinearDuplicateDetector compares the digest against every persisted scan,
// fetched fresh on each call. Cost is O(number of scans) per upload; rows
// without a stored digest never match.
type LinearDuplicateDetector struct {
	scans ScanLister
}

// NewLinearDuplicateDetector builds a detector over the given store.
func NewLinearDuplicateDetector(scans ScanLister) *LinearDuplicateDetector {
	return &LinearDuplicateDetector{scans: scans}
}

// FindDuplicate returns the oldest scan carrying digest.
func (d *LinearDuplicateDetector) FindDuplicate(ctx context.Context, digest string) (*repository.Scan, error) {
	scans, err := d.scans.ListScans(ctx)
	if err != nil {
		return nil, err
	}
	var match *repository.Scan
	for i := range scans {
		hash := scans[i].FileHash
		if hash == nil || *hash != digest {
			continue
		}
		if match == nil || scans[i].ID < match.ID {
			match = &scans[i]
		}
	}
	return match, nil
}
