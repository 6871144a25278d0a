package raster

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func testImageBytes(t *testing.T, encode func(w *bytes.Buffer, img image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 12))
	for x := 0; x < 8; x++ {
		for y := 0; y < 12; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 20), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

// ---------------------------------------------------------------------------
// Strategy ordering
// ---------------------------------------------------------------------------

func TestRasterizeFirstSuccessWins(t *testing.T) {
	var tried []string
	r := New(WithStrategies([]Strategy{
		{Name: "first", Render: func([]byte, int) ([]PageImage, error) {
			tried = append(tried, "first")
			return []PageImage{{Number: 1}}, nil
		}},
		{Name: "second", Render: func([]byte, int) ([]PageImage, error) {
			tried = append(tried, "second")
			return []PageImage{{Number: 99}}, nil
		}},
	}))

	pages := r.Rasterize([]byte("anything"), 300)
	if len(pages) != 1 || pages[0].Number != 1 {
		t.Fatalf("expected first strategy's pages, got %v", pages)
	}
	if len(tried) != 1 {
		t.Errorf("expected only the first strategy to run, tried %v", tried)
	}
}

func TestRasterizeFallsThroughOnError(t *testing.T) {
	r := New(WithStrategies([]Strategy{
		{Name: "broken", Render: func([]byte, int) ([]PageImage, error) {
			return nil, errors.New("cannot interpret")
		}},
		{Name: "working", Render: func([]byte, int) ([]PageImage, error) {
			return []PageImage{{Number: 1}, {Number: 2}}, nil
		}},
	}))

	pages := r.Rasterize([]byte("anything"), 300)
	if len(pages) != 2 {
		t.Fatalf("expected fallback strategy's 2 pages, got %d", len(pages))
	}
}

// Exhausting every strategy yields an empty sequence, not a panic or error —
// callers treat it as "nothing to extract".
func TestRasterizeExhaustionIsEmpty(t *testing.T) {
	r := New(WithStrategies([]Strategy{
		{Name: "a", Render: func([]byte, int) ([]PageImage, error) { return nil, errors.New("no") }},
		{Name: "b", Render: func([]byte, int) ([]PageImage, error) { return nil, errors.New("no") }},
	}))

	if pages := r.Rasterize([]byte{0x00, 0x01}, 300); len(pages) != 0 {
		t.Fatalf("expected empty page sequence, got %d pages", len(pages))
	}
}

func TestRasterizeDefaultDPI(t *testing.T) {
	var gotDPI int
	r := New(WithStrategies([]Strategy{
		{Name: "capture", Render: func(_ []byte, dpi int) ([]PageImage, error) {
			gotDPI = dpi
			return []PageImage{{Number: 1}}, nil
		}},
	}))

	r.Rasterize([]byte("x"), 0)
	if gotDPI != DefaultDPI {
		t.Errorf("dpi = %d, want %d", gotDPI, DefaultDPI)
	}
	r.Rasterize([]byte("x"), -10)
	if gotDPI != DefaultDPI {
		t.Errorf("dpi = %d, want %d", gotDPI, DefaultDPI)
	}
}

// ---------------------------------------------------------------------------
// Single-image fallback strategy
// ---------------------------------------------------------------------------

func TestRenderSingleImagePNG(t *testing.T) {
	data := testImageBytes(t, func(w *bytes.Buffer, img image.Image) error {
		return png.Encode(w, img)
	})

	pages, err := renderSingleImage(data, 300)
	if err != nil {
		t.Fatalf("renderSingleImage: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}

	p := pages[0]
	if p.Number != 1 {
		t.Errorf("page number = %d, want 1", p.Number)
	}
	if p.Width != 8 || p.Height != 12 {
		t.Errorf("dimensions = %dx%d, want 8x12", p.Width, p.Height)
	}

	// Output must be decodable JPEG.
	if _, err := jpeg.Decode(bytes.NewReader(p.JPEG)); err != nil {
		t.Errorf("page JPEG does not decode: %v", err)
	}
}

func TestRenderSingleImageJPEG(t *testing.T) {
	data := testImageBytes(t, func(w *bytes.Buffer, img image.Image) error {
		return jpeg.Encode(w, img, nil)
	})

	pages, err := renderSingleImage(data, 300)
	if err != nil {
		t.Fatalf("renderSingleImage: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
}

func TestRenderSingleImageGarbage(t *testing.T) {
	if _, err := renderSingleImage([]byte("definitely not an image"), 300); err == nil {
		t.Fatal("expected error for non-image bytes")
	}
}
