// Package session owns all per-binder state for one splitting run.
//
// A Session wraps the open binder with two native readers (MuPDF for
// rendering and plain text, ledongthuc/pdf for positioned text), the
// per-page raw/clean text caches, the region band cache, the binder content
// fingerprint, and the cooperative cancellation flag. Everything matching
// code touches goes through the Session, so concurrent processing of
// different binders is safe by construction; a single Session must not be
// shared across goroutines.
package session

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"bindersplit/internal/logger"
)

// Text shorter than this (after cleaning) marks a page as needing OCR.
const thinTextThreshold = 100

var nonCleanChars = regexp.MustCompile(`[^A-Z0-9#+/]+`)

// Clean canonicalizes raw extracted text: uppercase, restricted charset,
// collapsed whitespace. It is idempotent.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "’", "'")
	s = nonCleanChars.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// OCRHooks let the OCR engine participate in text extraction without the
// session depending on it. Both hooks are optional; a nil hook means the
// corresponding escalation is skipped.
type OCRHooks struct {
	// FullPage OCRs the whole page and folds the result into the session
	// text caches via MergeRaw.
	FullPage func(ctx context.Context, page int) error

	// Region recognizes an already-cropped page band render.
	Region func(ctx context.Context, img image.Image) (string, error)
}

// Session is the per-binder processing context.
type Session struct {
	path        string
	fingerprint string
	allowOCR    bool

	doc    *fitz.Document
	posRdr *pdf.Reader
	posFl  *os.File
	pages  int

	rawCache   map[int]string
	cleanCache map[int]string
	bandCache  map[bandKey]string

	// textVersion increments whenever a page's text changes, so callers
	// can key memoized pattern results without explicit invalidation.
	textVersion map[int]int

	cancelled atomic.Bool
	hooks     OCRHooks
	log       zerolog.Logger
}

type bandKey struct {
	page       int
	start, end int // band fractions rounded to 1e-4
}

// Fingerprint derives the binder content fingerprint from the absolute
// path, file size and modification time. An unmodified binder keeps its
// fingerprint across runs, which is what makes the disk OCR cache reusable.
func Fingerprint(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	h := sha1.New()
	h.Write([]byte(strings.ToLower(abs)))
	h.Write([]byte(fmt.Sprintf("%d", st.Size())))
	h.Write([]byte(fmt.Sprintf("%d", st.ModTime().UnixNano())))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Open starts a session for one binder. Any previously opened session for
// the same binder must be closed first; sessions are not concurrent.
func Open(path string, allowOCR bool) (*Session, error) {
	fp, err := Fingerprint(path)
	if err != nil {
		return nil, fmt.Errorf("session: fingerprint %s: %w", path, err)
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("session: open binder %s: %w", path, err)
	}
	s := &Session{
		path:        path,
		fingerprint: fp,
		allowOCR:    allowOCR,
		doc:         doc,
		pages:       doc.NumPage(),
		rawCache:    make(map[int]string),
		cleanCache:  make(map[int]string),
		bandCache:   make(map[bandKey]string),
		textVersion: make(map[int]int),
		log:         logger.WithComponent("session"),
	}

	// Positioned text is best-effort: some binders trip ledongthuc/pdf's
	// stricter parser, and the fitz tier still covers them.
	fl, rdr, err := pdf.Open(path)
	if err != nil {
		s.log.Debug().Err(err).Str("binder", path).Msg("positioned-text reader unavailable")
	} else {
		s.posFl = fl
		s.posRdr = rdr
	}
	return s, nil
}

// Close releases the binder documents. The session must not be used after.
func (s *Session) Close() {
	if s.doc != nil {
		s.doc.Close()
		s.doc = nil
	}
	if s.posFl != nil {
		s.posFl.Close()
		s.posFl = nil
		s.posRdr = nil
	}
}

// SetOCRHooks wires the OCR engine in. Must be called before matching when
// OCR is allowed.
func (s *Session) SetOCRHooks(h OCRHooks) { s.hooks = h }

// Path returns the binder path.
func (s *Session) Path() string { return s.path }

// Fingerprint returns the binder content fingerprint computed at Open.
func (s *Session) Fingerprint() string { return s.fingerprint }

// PageCount returns the number of pages in the binder.
func (s *Session) PageCount() int { return s.pages }

// AllowOCR reports whether this session may escalate to OCR.
func (s *Session) AllowOCR() bool { return s.allowOCR }

// Cancel requests cooperative cancellation. Safe from other goroutines.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// TextVersion returns a counter that changes whenever page text changes.
func (s *Session) TextVersion(page int) int { return s.textVersion[page] }

// RenderPage rasterizes a page at the given DPI.
func (s *Session) RenderPage(page int, dpi float64) (image.Image, error) {
	if s.doc == nil {
		return nil, fmt.Errorf("session: binder closed")
	}
	return s.doc.ImageDPI(page, dpi)
}

// NativeText returns the MuPDF plain text for a page, empty on failure.
func (s *Session) NativeText(page int) string {
	if s.doc == nil {
		return ""
	}
	txt, err := s.doc.Text(page)
	if err != nil {
		s.log.Debug().Err(err).Int("page", page).Msg("native text extraction failed")
		return ""
	}
	return strings.TrimSpace(txt)
}

// rowsText returns row-ordered positioned text, preserving reading order
// for producers whose plain-text stream comes out shuffled.
func (s *Session) rowsText(page int) string {
	p, ok := s.posPage(page)
	if !ok {
		return ""
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		s.log.Debug().Err(err).Int("page", page).Msg("row text extraction failed")
		return ""
	}
	var b strings.Builder
	for _, row := range rows {
		var line []string
		for _, word := range row.Content {
			if word.S != "" {
				line = append(line, word.S)
			}
		}
		if len(line) > 0 {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.Join(line, " "))
		}
	}
	return b.String()
}

// wordsText returns all positioned fragments sorted top-to-bottom then
// left-to-right, the last-resort tier for producers exposing only glyph runs.
func (s *Session) wordsText(page int) string {
	frags, _ := s.positionedText(page)
	if len(frags) == 0 {
		return ""
	}
	sort.SliceStable(frags, func(i, j int) bool {
		yi, yj := -frags[i].Y, -frags[j].Y // PDF y grows upward
		ri, rj := int(yi*10), int(yj*10)
		if ri != rj {
			return ri < rj
		}
		return frags[i].X < frags[j].X
	})
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		if f.S != "" {
			parts = append(parts, f.S)
		}
	}
	return strings.Join(parts, " ")
}

func (s *Session) posPage(page int) (pdf.Page, bool) {
	if s.posRdr == nil {
		return pdf.Page{}, false
	}
	if page < 0 || page >= s.posRdr.NumPage() {
		return pdf.Page{}, false
	}
	p := s.posRdr.Page(page + 1) // ledongthuc pages are 1-based
	if p.V.IsNull() {
		return pdf.Page{}, false
	}
	return p, true
}

func (s *Session) positionedText(page int) ([]pdf.Text, pdf.Page) {
	p, ok := s.posPage(page)
	if !ok {
		return nil, pdf.Page{}
	}
	defer func() {
		// Malformed content streams can panic inside the parser; treat
		// them as pages with no positioned text.
		if r := recover(); r != nil {
			s.log.Debug().Int("page", page).Interface("panic", r).Msg("positioned text parse failed")
		}
	}()
	content := p.Content()
	return content.Text, p
}

// mergeText folds new raw text into existing raw text without duplicating
// identical content or discarding unique content.
func mergeText(existing, incoming string) string {
	if incoming == "" {
		return existing
	}
	if existing == "" {
		return incoming
	}
	inClean, exClean := Clean(incoming), Clean(existing)
	inTrim, exTrim := strings.TrimSpace(incoming), strings.TrimSpace(existing)
	switch {
	case inClean == exClean || inTrim == exTrim:
		return existing
	case exTrim != "" && strings.Contains(incoming, exTrim):
		return incoming
	case inTrim != "" && strings.Contains(existing, inTrim):
		return existing
	default:
		return existing + "\n" + incoming
	}
}

// MergeRaw folds raw text (typically OCR output) into the page caches and
// bumps the page's text version.
func (s *Session) MergeRaw(page int, raw string) {
	combined := mergeText(s.rawCache[page], raw)
	s.rawCache[page] = combined
	s.cleanCache[page] = Clean(combined)
	s.textVersion[page]++
}

// SetCachedText installs previously computed raw/clean text for a page,
// used when a disk cache or template entry short-circuits extraction.
func (s *Session) SetCachedText(page int, raw, clean string) {
	if raw != "" {
		s.rawCache[page] = raw
	}
	if clean != "" {
		s.cleanCache[page] = clean
	}
	s.textVersion[page]++
}

// RawText returns the cached raw text without triggering extraction.
func (s *Session) RawText(page int) string { return s.rawCache[page] }

// CachedClean returns the cached clean text without triggering extraction.
func (s *Session) CachedClean(page int) string { return s.cleanCache[page] }

// PageText populates the raw cache with best-effort text for a page:
// native text plus the positioned row and word tiers, concatenated with
// substring dedup, escalating to full-page OCR only when the merged text
// is thin and OCR is allowed. Idempotent: the second call returns the
// cached value.
func (s *Session) PageText(ctx context.Context, page int) string {
	if txt, ok := s.rawCache[page]; ok {
		return txt
	}

	native := s.NativeText(page)
	rows := s.rowsText(page)
	words := s.wordsText(page)

	merged := native
	merged = mergeText(merged, rows)
	merged = mergeText(merged, words)

	if len(Clean(merged)) < thinTextThreshold && s.allowOCR && s.hooks.FullPage != nil && !s.Cancelled() {
		s.rawCache[page] = merged // seed so OCR merges instead of replacing
		s.textVersion[page]++
		if err := s.hooks.FullPage(ctx, page); err != nil {
			s.log.Debug().Err(err).Int("page", page).Msg("full-page OCR escalation failed")
		}
		return s.rawCache[page]
	}

	s.rawCache[page] = merged
	s.textVersion[page]++
	return merged
}

// CleanText returns the canonical cleaned text for a page, memoized
// separately from the raw tier.
func (s *Session) CleanText(ctx context.Context, page int) string {
	if txt, ok := s.cleanCache[page]; ok {
		return txt
	}
	cleaned := Clean(s.PageText(ctx, page))
	s.cleanCache[page] = cleaned
	return cleaned
}

// SuspectPages lists pages whose native text alone is too thin to match
// against, the usual signature of scanned pages.
func (s *Session) SuspectPages() []int {
	var out []int
	for i := 0; i < s.pages; i++ {
		if len(s.NativeText(i)) < thinTextThreshold {
			out = append(out, i)
		}
	}
	return out
}
