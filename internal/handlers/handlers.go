package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/leafscan/internal/classifier"
	"github.com/example/leafscan/internal/repository"
	"github.com/example/leafscan/internal/usecase"
)

// MaxUploadSize is the default limit for a single uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

// ScanService is the use case surface the handlers depend on.
type ScanService interface {
	Scan(ctx context.Context, data []byte) (usecase.Result, error)
	ListScans(ctx context.Context) ([]usecase.ScanRecord, error)
	GetScan(ctx context.Context, id int64) (*usecase.ScanRecord, error)
	GetSummary(ctx context.Context) (*usecase.Summary, error)
}

// Options tunes route registration.
type Options struct {
	// UploadsDir is served read-only under usecase.DefaultPublicPrefix when set.
	UploadsDir string
	// MaxUploadSize overrides the package default when positive.
	MaxUploadSize int64
	// Model enables GET /models when set.
	Model *classifier.ModelInfo
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ScanService, opts Options) {
	maxUpload := opts.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Model != nil {
		model := *opts.Model
		router.GET("/models", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"models":       gin.H{model.Name: model},
				"active_model": model.Name,
				"stats": gin.H{
					"active_model":     model.Name,
					"available_models": 1,
					"total_classes":    len(model.Classes),
				},
			})
		})
	}

	if opts.UploadsDir != "" {
		router.Static(usecase.DefaultPublicPrefix, opts.UploadsDir)
	}

	router.POST("/scan", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload+multipartOverhead)

		file, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded", "kind": usecase.KindMissingInput})
			return
		}
		if file.Size > maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open file"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
			return
		}

		result, err := svc.Scan(c.Request.Context(), data)
		if err != nil {
			respondScanError(c, err)
			return
		}

		switch r := result.(type) {
		case *usecase.DuplicateScan:
			c.JSON(http.StatusOK, gin.H{
				"message":       "Duplicate file upload detected",
				"existing_scan": usecase.NewScanRecord(r.Existing),
			})
		case *usecase.NewScan:
			c.JSON(http.StatusOK, gin.H{
				"filename":        r.Scan.Filename,
				"file_path":       r.Scan.FilePath,
				"predicted_class": r.Scan.PredictedClass,
				"confidence":      r.Scan.Confidence,
				"file_hash":       r.FileHash,
				"scan_id":         r.Scan.ID,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected scan result"})
		}
	})

	router.GET("/scans", func(c *gin.Context) {
		records, err := svc.ListScans(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, records)
	})

	router.GET("/scans/summary", func(c *gin.Context) {
		summary, err := svc.GetSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.GET("/scans/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}

		record, err := svc.GetScan(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrScanNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
	})
}

func respondScanError(c *gin.Context, err error) {
	var scanErr *usecase.ScanError
	if !errors.As(err, &scanErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	if scanErr.IsClientError() {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"error":      scanErr.Error(),
		"kind":       scanErr.Kind,
		"stage":      scanErr.Stage,
		"request_id": scanErr.RequestID,
	})
}
