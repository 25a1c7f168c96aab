package ocr

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine recognizes text through a local Tesseract install. A fresh
// client is created per call; gosseract clients are cheap relative to the
// recognition itself and per-call clients avoid leaking native state across
// pages.
type TesseractEngine struct {
	lang string
}

// NewTesseractEngine returns an engine using the given language data,
// defaulting to English.
func NewTesseractEngine(lang string) *TesseractEngine {
	if lang == "" {
		lang = "eng"
	}
	return &TesseractEngine{lang: lang}
}

// Recognize runs word-boxes recognition and reconstructs line text by
// grouping words with identical (block, paragraph, line) indices.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, WrapOCRError("encode_image", ErrImageEncoding, err.Error())
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.lang); err != nil {
		return nil, WrapOCRError("set_language", err, e.lang)
	}
	// Uniform-block segmentation reads dense form pages better than the
	// default auto mode.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, WrapOCRError("set_psm", err, "")
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, WrapOCRError("set_image", err, "")
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, WrapOCRError("recognize", ErrRecognition, err.Error())
	}

	type lineKey struct {
		block, par, line int
	}
	var lines []string
	var current []string
	var currentKey lineKey
	started := false
	var confSum float64
	confCount := 0

	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		if box.Confidence >= 0 {
			confSum += box.Confidence
			confCount++
		}
		key := lineKey{block: box.BlockNum, par: box.ParNum, line: box.LineNum}
		switch {
		case !started:
			started = true
			currentKey = key
			current = []string{word}
		case key != currentKey:
			lines = append(lines, strings.Join(current, " "))
			currentKey = key
			current = []string{word}
		default:
			current = append(current, word)
		}
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}

	result := &Result{Raw: strings.TrimSpace(strings.Join(lines, "\n"))}
	if confCount > 0 {
		avg := confSum / float64(confCount)
		result.AvgConf = &avg
	}
	return result, nil
}

// Close implements Engine. Per-call clients leave nothing to release.
func (e *TesseractEngine) Close() error { return nil }
