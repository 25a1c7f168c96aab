package session

import (
	"context"
	"image"
	"sort"
	"strings"
)

const bandOCRDPI = 300

func clampFrac(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BandText returns the cleaned text of a vertical band of a page, expressed
// as fractions of page height from the top. Native positioned text is tried
// first; when the band is empty and OCR is allowed, the band render is
// recognized through the region hook. Results are cached per (page, band).
func (s *Session) BandText(ctx context.Context, page int, startFrac, endFrac float64) string {
	start, end := clampFrac(startFrac), clampFrac(endFrac)
	if end < start {
		start, end = end, start
	}
	if end-start < 1e-4 {
		end = start + 0.01
		if end > 1 {
			end = 1
		}
	}
	key := bandKey{page: page, start: int(start * 1e4), end: int(end * 1e4)}
	if txt, ok := s.bandCache[key]; ok {
		return txt
	}

	text := s.nativeBandText(page, start, end)
	if text == "" && s.allowOCR && s.hooks.Region != nil && !s.Cancelled() {
		if img := s.renderBand(page, start, end); img != nil {
			out, err := s.hooks.Region(ctx, img)
			if err != nil {
				s.log.Debug().Err(err).Int("page", page).Msg("band OCR failed")
			} else {
				text = out
			}
		}
	}

	cleaned := Clean(text)
	s.bandCache[key] = cleaned
	return cleaned
}

// nativeBandText collects positioned fragments whose baseline falls inside
// the band. PDF y coordinates grow upward, band fractions grow downward.
func (s *Session) nativeBandText(page int, start, end float64) string {
	frags, _ := s.positionedText(page)
	if len(frags) == 0 {
		return ""
	}
	height := s.pageHeight(page)
	if height <= 0 {
		return ""
	}
	yMax := height * (1 - start)
	yMin := height * (1 - end)

	type frag struct {
		x, y float64
		s    string
	}
	var inBand []frag
	for _, f := range frags {
		if f.S == "" || f.Y < yMin || f.Y > yMax {
			continue
		}
		inBand = append(inBand, frag{x: f.X, y: f.Y, s: f.S})
	}
	if len(inBand) == 0 {
		return ""
	}
	sort.SliceStable(inBand, func(i, j int) bool {
		ri, rj := int(-inBand[i].y*10), int(-inBand[j].y*10)
		if ri != rj {
			return ri < rj
		}
		return inBand[i].x < inBand[j].x
	})
	parts := make([]string, 0, len(inBand))
	for _, f := range inBand {
		parts = append(parts, f.s)
	}
	return strings.Join(parts, " ")
}

// pageHeight returns the page height in points.
func (s *Session) pageHeight(page int) float64 {
	if s.doc == nil {
		return 0
	}
	bound, err := s.doc.Bound(page)
	if err != nil {
		return 0
	}
	return float64(bound.Dy())
}

// renderBand rasterizes just the band of a page.
func (s *Session) renderBand(page int, start, end float64) image.Image {
	img, err := s.RenderPage(page, bandOCRDPI)
	if err != nil {
		s.log.Debug().Err(err).Int("page", page).Msg("band render failed")
		return nil
	}
	b := img.Bounds()
	top := b.Min.Y + int(float64(b.Dy())*start)
	bottom := b.Min.Y + int(float64(b.Dy())*end)
	if bottom <= top {
		return nil
	}
	crop := image.Rect(b.Min.X, top, b.Max.X, bottom)
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(crop)
	}
	return img
}
