// Package ocr provides the splitter's OCR engine with adaptive DPI
// escalation.
//
// Pages are rasterized from the open binder, cropped to the requested scope
// (full page, bottom strip or middle band), preprocessed for scanned/faxed
// input, and recognized in word-boxes mode through Tesseract. When the mean
// word confidence or the resulting text length is too weak, the run is
// repeated up the fixed DPI ladder (200 -> 260 -> 320 -> 360) until quality
// is acceptable or the ladder tops out.
//
// Results flow into three places: the session's page text caches (merged,
// never replacing unique content), the per-binder disk cache, and, for
// rule-attributed runs, the cross-binder template store.
//
// Requirements:
//   - Tesseract must be installed with the configured language data
//     (BINDERSPLIT_TESSERACT_LANG, default "eng").
//
// Failure semantics: recognition errors are logged and degrade to an empty
// result for that page; they never abort a matching pass.
package ocr

import (
	"context"
	"image"
)

// Result is one recognition pass over a prepared image.
type Result struct {
	// Raw is the recognized text with lines reconstructed from word boxes
	// grouped by identical (block, paragraph, line) indices.
	Raw string

	// AvgConf is the mean per-word confidence (0-100), nil when the pass
	// produced no confident words.
	AvgConf *float64
}

// Engine recognizes text in an image. Implementations need not be safe for
// concurrent use; the splitter runs one binder at a time.
type Engine interface {
	// Recognize runs OCR over an already-preprocessed image.
	Recognize(ctx context.Context, img image.Image) (*Result, error)

	// Close releases engine resources.
	Close() error
}
