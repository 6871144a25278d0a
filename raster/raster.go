// Package raster converts an opaque document byte buffer into an ordered
// sequence of JPEG page images. Interpretation of the buffer is an ordered
// list of strategies tried in sequence — first success wins, exhaustion
// yields an empty page list rather than an error, so callers treat an
// unrecognized buffer as "nothing to extract".
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	_ "image/gif"
	_ "image/png"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI is the rendering density used when the caller passes a
// non-positive value.
const DefaultDPI = 300

// jpegQuality matches the original capture settings of the scanned inputs.
const jpegQuality = 92

// PageImage is one rasterized page. Number is 1-based and equals the
// physical page order in the source document.
type PageImage struct {
	Number int
	JPEG   []byte
	Width  int
	Height int
}

// Strategy is one way of interpreting a byte buffer as page images.
type Strategy struct {
	Name   string
	Render func(data []byte, dpi int) ([]PageImage, error)
}

// DefaultStrategies returns the built-in interpretation order: a multi-page
// document via MuPDF first, then a single already-rasterized image.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "mupdf", Render: renderDocument},
		{Name: "image", Render: renderSingleImage},
	}
}

// Rasterizer tries its strategies in order against each input buffer.
type Rasterizer struct {
	strategies []Strategy
}

// Option configures a Rasterizer.
type Option func(*Rasterizer)

// WithStrategies replaces the default strategy list.
func WithStrategies(strategies []Strategy) Option {
	return func(r *Rasterizer) { r.strategies = strategies }
}

// New returns a Rasterizer with the default strategies.
func New(opts ...Option) *Rasterizer {
	r := &Rasterizer{strategies: DefaultStrategies()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rasterize renders data at the given density. The returned pages are in
// source order. An empty slice means no strategy could interpret the buffer.
func (r *Rasterizer) Rasterize(data []byte, dpi int) []PageImage {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	for _, s := range r.strategies {
		pages, err := s.Render(data, dpi)
		if err != nil {
			slog.Debug("raster: strategy failed", "strategy", s.Name, "error", err)
			continue
		}
		if len(pages) > 0 {
			return pages
		}
	}
	return nil
}

// renderDocument opens the buffer as a multi-page document with MuPDF and
// renders every page.
func renderDocument(data []byte, dpi int) ([]PageImage, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening document: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	pages := make([]PageImage, 0, count)
	for i := 0; i < count; i++ {
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("rendering page %d: %w", i+1, err)
		}
		page, err := encodePage(img, i+1)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// renderSingleImage treats the buffer as one already-rasterized page.
func renderSingleImage(data []byte, _ int) ([]PageImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	page, err := encodePage(img, 1)
	if err != nil {
		return nil, err
	}
	return []PageImage{page}, nil
}

func encodePage(img image.Image, number int) (PageImage, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return PageImage{}, fmt.Errorf("encoding page %d: %w", number, err)
	}
	bounds := img.Bounds()
	return PageImage{
		Number: number,
		JPEG:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
