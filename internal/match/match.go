// Package match is the rule engine: it evaluates compiled classification
// rules against a binder's cleaned page text and turns matches into saved
// documents, reviewer prompts and run statistics.
//
// The engine is a straight sequential scan. Range rules run first in
// priority order, claiming page spans; single-page rules run over the
// remaining pages. A page claimed by one match is never offered to another
// rule, so later classification can depend on earlier claims.
//
// Text access goes through the Source interface and OCR escalation through
// the optional OCRAssist interface, so the engine is testable with synthetic
// page text and no OCR install. Pattern hit counts are memoized per
// (rule, target, page, text version); a version bump after OCR fold-in
// invalidates the memo without explicit bookkeeping.
package match

import (
	"context"

	"github.com/rs/zerolog"

	"bindersplit/internal/logger"
	"bindersplit/internal/rules"
)

// Source provides per-page text and page-level heuristics for matching.
// *session.Session is the production implementation.
type Source interface {
	PageCount() int
	AllowOCR() bool
	Cancelled() bool
	CleanText(ctx context.Context, page int) string
	BandText(ctx context.Context, page int, startFrac, endFrac float64) string
	TextVersion(page int) int
	LooksLikeTable(page int) bool
}

// OCRAssist grants the engine targeted OCR escalation during matching.
// All calls fold results into the Source's text caches as a side effect.
// A nil OCRAssist disables every escalation path.
type OCRAssist interface {
	// MaybeForceFullPage force-OCRs a page only when its clean text is
	// thin. Reports whether OCR was attempted.
	MaybeForceFullPage(ctx context.Context, page int, reason, pageText, rule string) bool

	// ForceFullPage force-OCRs a page unconditionally (subject to the
	// forced ledger unless force is set).
	ForceFullPage(ctx context.Context, page int, reason string, force bool, rule, seed string)

	// BottomStrip OCRs the bottom strip of a page, the cheap assist for
	// end cues on scanned signature pages.
	BottomStrip(ctx context.Context, page int)

	// SaveTemplate persists the page's current text as a template for a
	// rule, when text is available.
	SaveTemplate(rule string, page int)
}

type hitKey struct {
	rule    string
	target  string
	page    int
	version int
}

type firstMemo struct {
	pat rules.Pattern
	ok  bool
}

type lookKey struct {
	rule string
	page int
}

// Matcher evaluates one rule set against one binder. Single-goroutine, like
// the session it reads from.
type Matcher struct {
	src    Source
	assist OCRAssist
	rules  []*rules.CompiledRule

	allStartPats []rules.Pattern

	hits     map[hitKey]int
	first    map[hitKey]firstMemo
	lookback map[lookKey]bool

	log zerolog.Logger
}

// New builds a matcher over a compiled rule set. assist may be nil.
func New(src Source, assist OCRAssist, ruleSet []*rules.CompiledRule) *Matcher {
	return &Matcher{
		src:          src,
		assist:       assist,
		rules:        ruleSet,
		allStartPats: rules.CollectRangeStartPatterns(ruleSet),
		hits:         make(map[hitKey]int),
		first:        make(map[hitKey]firstMemo),
		lookback:     make(map[lookKey]bool),
		log:          logger.WithComponent("match"),
	}
}

// patternHits counts patterns from a target list that occur on a page.
// Region-hinted patterns are tested against their bands first and only fall
// back to the whole page when no band matches. Results are memoized per
// text version.
func (m *Matcher) patternHits(ctx context.Context, r *rules.CompiledRule, target string, pats []rules.Pattern, page int) int {
	if len(pats) == 0 {
		return 0
	}
	key := hitKey{rule: r.CacheID, target: target, page: page, version: m.src.TextVersion(page)}
	if v, ok := m.hits[key]; ok {
		return v
	}
	text := m.src.CleanText(ctx, page)
	total := 0
	for _, p := range pats {
		matched := false
		for _, band := range r.HintBands(target, p) {
			if bandText := m.src.BandText(ctx, page, band.Start, band.End); bandText != "" && p.Match(bandText) {
				matched = true
				total++
				break
			}
		}
		if !matched && p.Match(text) {
			total++
		}
	}
	m.hits[key] = total
	return total
}

// patternFirst returns the first pattern from a target list that occurs on a
// page, band-restricted patterns first. Memoized like patternHits.
func (m *Matcher) patternFirst(ctx context.Context, r *rules.CompiledRule, target string, pats []rules.Pattern, page int) (rules.Pattern, bool) {
	if len(pats) == 0 {
		return rules.Pattern{}, false
	}
	key := hitKey{rule: r.CacheID, target: "first:" + target, page: page, version: m.src.TextVersion(page)}
	if memo, ok := m.first[key]; ok {
		return memo.pat, memo.ok
	}
	text := m.src.CleanText(ctx, page)
	for _, p := range pats {
		for _, band := range r.HintBands(target, p) {
			if bandText := m.src.BandText(ctx, page, band.Start, band.End); bandText != "" && p.Match(bandText) {
				m.first[key] = firstMemo{pat: p, ok: true}
				return p, true
			}
		}
		if p.Match(text) {
			m.first[key] = firstMemo{pat: p, ok: true}
			return p, true
		}
	}
	m.first[key] = firstMemo{}
	return rules.Pattern{}, false
}

// plainHits counts patterns matching text with no hints and no memo.
func plainHits(text string, pats []rules.Pattern) int {
	n := 0
	for _, p := range pats {
		if p.Match(text) {
			n++
		}
	}
	return n
}
