package usecase

import (
	"errors"
	"fmt"
)

// ErrorKind classifies scan failures for callers.
type ErrorKind string

const (
	KindMissingInput ErrorKind = "missing_input"
	KindDecode       ErrorKind = "decode"
	KindInference    ErrorKind = "inference"
	KindStorage      ErrorKind = "storage"
)

// Stage names the pipeline step that was running when a scan failed.
type Stage string

const (
	StageReceive        Stage = "receive"
	StageDuplicateCheck Stage = "duplicate_check"
	StageStoreFile      Stage = "store_file"
	StagePreprocess     Stage = "preprocess"
	StageClassify       Stage = "classify"
	StagePersist        Stage = "persist"
)

// ErrEmptyUpload is returned for an upload without content.
var ErrEmptyUpload = errors.New("no file uploaded")

// ScanError is the terminal error of a failed scan.
type ScanError struct {
	Kind      ErrorKind
	Stage     Stage
	RequestID string
	Err       error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s failed at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether the failure was caused by the upload itself.
func (e *ScanError) IsClientError() bool {
	return e.Kind == KindMissingInput || e.Kind == KindDecode
}
