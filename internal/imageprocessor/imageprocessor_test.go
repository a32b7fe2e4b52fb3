package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func uniform(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPreprocessShapeAndRange(t *testing.T) {
	p := NewPreprocessor(0)
	data := encodePNG(t, uniform(300, 180, color.NRGBA{R: 255, G: 0, B: 51, A: 255}))

	tensor, err := p.Preprocess(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int64{1, DefaultSize, DefaultSize, 3}
	for i := range want {
		if tensor.Shape[i] != want[i] {
			t.Fatalf("unexpected shape %v", tensor.Shape)
		}
	}
	if len(tensor.Data) != DefaultSize*DefaultSize*3 {
		t.Fatalf("unexpected data length %d", len(tensor.Data))
	}

	checks := []float32{1, -1, 51/127.5 - 1}
	for i, expected := range checks {
		if math.Abs(float64(tensor.Data[i]-expected)) > 1e-5 {
			t.Fatalf("channel %d: expected %f, got %f", i, expected, tensor.Data[i])
		}
	}
	for _, v := range tensor.Data {
		if v < -1 || v > 1 {
			t.Fatalf("value out of range: %f", v)
		}
	}
}

func TestPreprocessCropsToFillWithoutLetterbox(t *testing.T) {
	// A wide image whose outer thirds are black and centre is white: a
	// cover-fit crop keeps only the white centre, so no black bars appear.
	img := image.NewNRGBA(image.Rect(0, 0, 90, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 90; x++ {
			c := color.NRGBA{A: 255}
			if x >= 30 && x < 60 {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	tensor, err := NewPreprocessor(8).Preprocess(encodePNG(t, img))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Centre pixel of the fitted 8x8 image.
	idx := (4*8 + 4) * 3
	if tensor.Data[idx] < 0.9 {
		t.Fatalf("expected centre to stay white, got %f", tensor.Data[idx])
	}
	if tensor.Shape[1] != 8 || tensor.Shape[2] != 8 {
		t.Fatalf("unexpected shape %v", tensor.Shape)
	}
}

func pixelAt(tensor *Tensor, size, x, y int) [3]float32 {
	i := (y*size + x) * 3
	return [3]float32{tensor.Data[i], tensor.Data[i+1], tensor.Data[i+2]}
}

func assertPixel(t *testing.T, got, want [3]float32) {
	t.Helper()
	for c := range want {
		if math.Abs(float64(got[c]-want[c])) > 1e-5 {
			t.Fatalf("expected pixel %v, got %v", want, got)
		}
	}
}

func TestPreprocessKeepsColourOfTransparentPixels(t *testing.T) {
	p := NewPreprocessor(DefaultSize)

	tests := []struct {
		name  string
		fill  color.NRGBA
		pixel [3]float32
	}{
		{name: "fully transparent white", fill: color.NRGBA{R: 255, G: 255, B: 255, A: 0}, pixel: [3]float32{1, 1, 1}},
		{name: "half transparent blue", fill: color.NRGBA{R: 0, G: 0, B: 255, A: 128}, pixel: [3]float32{-1, -1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := p.Preprocess(encodePNG(t, uniform(300, 300, tt.fill)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, xy := range [][2]int{{0, 0}, {DefaultSize / 2, DefaultSize / 2}, {DefaultSize - 1, DefaultSize - 1}} {
				assertPixel(t, pixelAt(tensor, DefaultSize, xy[0], xy[1]), tt.pixel)
			}
		})
	}
}

func TestPreprocessTransparentCutoutEdges(t *testing.T) {
	// Opaque green on the left, transparent red on the right. Resampling must
	// not pull the transparent side toward black.
	img := image.NewNRGBA(image.Rect(0, 0, 300, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 300; x++ {
			if x < 150 {
				img.SetNRGBA(x, y, color.NRGBA{G: 255, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 255})
			}
		}
	}

	tensor, err := NewPreprocessor(DefaultSize).Preprocess(encodePNG(t, img))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertPixel(t, pixelAt(tensor, DefaultSize, 0, 10), [3]float32{-1, 1, -1})
	assertPixel(t, pixelAt(tensor, DefaultSize, DefaultSize-1, 10), [3]float32{1, -1, -1})
}

func TestPreprocessAcceptsJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, uniform(64, 64, color.NRGBA{R: 10, G: 200, B: 30, A: 255}), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if _, err := NewPreprocessor(16).Preprocess(buf.Bytes()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPreprocessRejectsNonImageBytes(t *testing.T) {
	for name, data := range map[string][]byte{
		"text":  []byte("definitely not an image"),
		"empty": nil,
		"gif":   []byte("GIF89a\x01"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewPreprocessor(DefaultSize).Preprocess(data)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestIsHEICFormat(t *testing.T) {
	if !isHEICFormat([]byte("\x00\x00\x00\x18ftypheic")) {
		t.Fatal("expected heic brand to be detected")
	}
	if isHEICFormat([]byte("\x89PNG\r\n\x1a\n0000")) {
		t.Fatal("png must not be detected as heic")
	}
}
