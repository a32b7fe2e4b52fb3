// Package imageprocessor turns raw upload bytes into the normalized tensor
// the classifier expects.
package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// DefaultSize is the square input resolution of the bundled classifier.
const DefaultSize = 224

// SupportedFormats lists the image formats Preprocess can decode.
func SupportedFormats() []string {
	return []string{"jpeg", "png", "gif", "bmp", "tiff", "webp", "heic"}
}

// Tensor is a dense float32 batch in NHWC layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// DecodeError reports upload bytes that could not be decoded as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Preprocessor decodes, fits and normalizes images to a square input.
type Preprocessor struct {
	Size int
}

// NewPreprocessor returns a Preprocessor for size x size inputs. Non-positive
// sizes fall back to DefaultSize.
func NewPreprocessor(size int) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Preprocessor{Size: size}
}

// Preprocess decodes data, crops it to fill a Size x Size square with a
// Lanczos filter and rescales every channel from [0,255] to [-1,1]. The result
// has shape [1, Size, Size, 3].
func (p *Preprocessor) Preprocess(data []byte) (*Tensor, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty image")}
	}
	img, err := decode(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}

	size := p.Size
	if size <= 0 {
		size = DefaultSize
	}
	fitted := imaging.Fill(opaque(img), size, size, imaging.Center, imaging.Lanczos)

	tensor := &Tensor{
		Shape: []int64{1, int64(size), int64(size), 3},
		Data:  make([]float32, 0, size*size*3),
	}
	for y := 0; y < size; y++ {
		row := fitted.Pix[y*fitted.Stride : y*fitted.Stride+size*4]
		for x := 0; x < size*4; x += 4 {
			tensor.Data = append(tensor.Data,
				normalize(row[x]),
				normalize(row[x+1]),
				normalize(row[x+2]),
			)
		}
	}
	return tensor, nil
}

// opaque copies img into NRGBA with every alpha set to 255. The colour of
// transparent pixels is kept as stored, not composited onto a background,
// so the resampler never weights pixels by alpha.
func opaque(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func normalize(v uint8) float32 {
	return float32(v)/127.5 - 1
}

func decode(data []byte) (image.Image, error) {
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}
	return imaging.Decode(bytes.NewReader(data))
}

// isHEICFormat looks for an ftyp box with a HEIC-family brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
