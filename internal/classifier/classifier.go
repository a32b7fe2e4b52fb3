// Package classifier defines the boundary to the pre-trained image classifier.
package classifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/example/leafscan/internal/imageprocessor"
)

// Classifier returns one raw score per label for a normalized batch of one.
// Implementations neither rank nor threshold.
type Classifier interface {
	Predict(ctx context.Context, tensor *imageprocessor.Tensor) ([]float32, error)
}

// InferenceError reports a failed model invocation or an unusable score vector.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Labels is the ordered class vocabulary; the index is the class id.
type Labels []string

// LoadLabels reads one label per line. Surrounding whitespace is trimmed and
// trailing blank lines are ignored.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// Prediction is the winning class of one score vector.
type Prediction struct {
	Index      int
	Class      string
	Confidence float64
}

// Top picks the highest score; ties go to the lowest index. The vector must
// line up with labels and the winning score must be a probability.
func Top(scores []float32, labels Labels) (*Prediction, error) {
	if len(scores) == 0 {
		return nil, &InferenceError{Err: errors.New("empty score vector")}
	}
	if len(scores) != len(labels) {
		return nil, &InferenceError{Err: fmt.Errorf("got %d scores for %d labels", len(scores), len(labels))}
	}

	best := -1
	for i, s := range scores {
		if math.IsNaN(float64(s)) {
			continue
		}
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	if best < 0 {
		return nil, &InferenceError{Err: errors.New("score vector has no finite values")}
	}

	confidence := float64(scores[best])
	if confidence < 0 || confidence > 1 {
		return nil, &InferenceError{Err: fmt.Errorf("score %f for %q is outside [0,1]", confidence, labels[best])}
	}
	return &Prediction{Index: best, Class: labels[best], Confidence: confidence}, nil
}

// ModelInfo describes the configured model for read-only inspection.
type ModelInfo struct {
	Name             string   `json:"name"`
	InputShape       []int64  `json:"input_shape"`
	SupportedFormats []string `json:"supported_formats"`
	MaxImageSize     int64    `json:"max_image_size"`
	Classes          []string `json:"classes"`
}

// NewModelInfo reports a model fed by the given preprocessing size.
func NewModelInfo(name string, size int, maxImageSize int64, labels Labels) ModelInfo {
	return ModelInfo{
		Name:             name,
		InputShape:       []int64{1, int64(size), int64(size), 3},
		SupportedFormats: imageprocessor.SupportedFormats(),
		MaxImageSize:     maxImageSize,
		Classes:          append([]string(nil), labels...),
	}
}
