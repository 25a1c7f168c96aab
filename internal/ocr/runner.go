package ocr

import (
	"context"
	"image"

	"github.com/rs/zerolog"

	"bindersplit/internal/cache"
	"bindersplit/internal/logger"
	"bindersplit/internal/session"
	"bindersplit/pkg/models"
)

// Adaptive DPI policy. Recognition starts low and climbs the ladder while
// quality stays poor; tabular pages start higher because cell text needs the
// resolution.
var dpiSteps = [...]int{200, 260, 320, 360}

const (
	dpiMin       = 150
	dpiMax       = 360
	dpiTable     = 320
	dpiRegion    = 300
	dpiForced    = 300
	signatureDPI = 160

	// minAvgConf is the mean word confidence below which a pass is retried
	// at the next DPI step.
	minAvgConf = 85.0

	// Clean-text lengths below these mark a pass as too weak to stop at.
	fullQualityLen   = 80
	regionQualityLen = 35

	// ForceTextThreshold gates targeted re-OCR: pages already carrying this
	// much clean text are never force-OCR'd.
	ForceTextThreshold = 80

	// defaultFullPct is the region height fraction for full-page runs
	// (unused for cropping, kept for cache-key stability with region runs).
	defaultFullPct = 0.9

	// bottomStripPct is the height fraction of the end-cue assist strip.
	bottomStripPct = 0.6
)

type memKey struct {
	page  int
	scope models.OCRScope
}

// Source is the per-binder state a Runner reads and writes: page renders,
// the merged text caches, and the layout signals that steer DPI selection.
// *session.Session implements it.
type Source interface {
	Cancelled() bool
	RenderPage(page int, dpi float64) (image.Image, error)
	MergeRaw(page int, raw string)
	RawText(page int) string
	CleanText(ctx context.Context, page int) string
	CachedClean(page int) string
	LooksLikeTable(page int) bool
	SuspectPages() []int
}

// Runner drives OCR for one session: adaptive-DPI recognition, the in-memory
// and disk result tiers, the forced-OCR ledger, and template reuse. Like the
// session it serves, a Runner is single-goroutine.
type Runner struct {
	sess      Source
	engine    Engine
	disk      *cache.BinderCache
	templates *cache.TemplateStore

	mem    map[memKey]*models.OCREntry
	forced map[memKey]bool
	sigs   map[int]string
	log    zerolog.Logger
}

// NewRunner wires a runner to a session and its cache tiers. disk and
// templates may be nil, which disables the corresponding tier.
func NewRunner(sess Source, engine Engine, disk *cache.BinderCache, templates *cache.TemplateStore) *Runner {
	return &Runner{
		sess:      sess,
		engine:    engine,
		disk:      disk,
		templates: templates,
		mem:       make(map[memKey]*models.OCREntry),
		forced:    make(map[memKey]bool),
		sigs:      make(map[int]string),
		log:       logger.WithComponent("ocr"),
	}
}

// Hooks returns the session callbacks backed by this runner.
func (r *Runner) Hooks() session.OCRHooks {
	return session.OCRHooks{
		FullPage: func(ctx context.Context, page int) error {
			r.Run(ctx, page, models.ScopeFull, defaultFullPct, 0)
			return nil
		},
		Region: func(ctx context.Context, img image.Image) (string, error) {
			res, err := r.engine.Recognize(ctx, prepare(toGray(img)))
			if err != nil {
				return "", err
			}
			return res.Raw, nil
		},
	}
}

// Entry returns the in-memory result for a (page, scope) pair, nil if that
// pair was never OCR'd this run.
func (r *Runner) Entry(page int, scope models.OCRScope) *models.OCREntry {
	return r.mem[memKey{page: page, scope: scope}]
}

func (r *Runner) selectInitialDPI(page int, scope models.OCRScope, requested int) int {
	base := dpiSteps[0]
	if requested > base {
		base = requested
	}
	if r.sess.LooksLikeTable(page) {
		tableBase := dpiTable
		if scope != models.ScopeFull {
			tableBase = dpiRegion
		}
		if tableBase > base {
			base = tableBase
		}
	}
	if base < dpiMin {
		base = dpiMin
	}
	if base > dpiMax {
		base = dpiMax
	}
	return base
}

func nextDPI(current int) int {
	for _, step := range dpiSteps {
		if step > current {
			return step
		}
	}
	return current
}

func qualityThreshold(scope models.OCRScope) int {
	if scope == models.ScopeFull || scope == "" {
		return fullQualityLen
	}
	return regionQualityLen
}

func needsEscalation(scope models.OCRScope, length int, avgConf *float64, dpi int) bool {
	if dpi >= dpiSteps[len(dpiSteps)-1] {
		return false
	}
	if avgConf != nil && *avgConf < minAvgConf {
		return true
	}
	return length < qualityThreshold(scope)
}

// applyEntry folds a cached result back into the session text caches.
func (r *Runner) applyEntry(page int, entry *models.OCREntry) {
	if entry == nil {
		return
	}
	r.sess.MergeRaw(page, entry.Raw)
}

// Run OCRs a (page, scope) pair with adaptive DPI and returns the final
// entry. Cached results short-circuit unless they are below the quality bar
// or below an explicitly requested DPI, in which case recognition resumes
// above the cached step. requestedDPI <= 0 means no explicit request.
func (r *Runner) Run(ctx context.Context, page int, scope models.OCRScope, pct float64, requestedDPI int) *models.OCREntry {
	if r.sess.Cancelled() || ctx.Err() != nil {
		return nil
	}
	if scope == "" {
		scope = models.ScopeFull
	}
	key := memKey{page: page, scope: scope}

	entry := r.mem[key]
	if entry == nil && r.disk != nil {
		if diskEntry := r.disk.Load(page, scope); diskEntry != nil {
			entry = diskEntry
			r.mem[key] = diskEntry
			r.applyEntry(page, diskEntry)
		}
	}

	targetDPI := r.selectInitialDPI(page, scope, requestedDPI)
	if entry != nil {
		upgrade := false
		if requestedDPI > 0 && entry.DPI < targetDPI {
			upgrade = true
		}
		if entry.Length < qualityThreshold(scope) {
			upgrade = true
		}
		if entry.AvgConf != nil && *entry.AvgConf < minAvgConf && entry.DPI < dpiSteps[len(dpiSteps)-1] {
			upgrade = true
		}
		if !upgrade {
			r.applyEntry(page, entry)
			return entry
		}
		if entry.DPI > targetDPI {
			targetDPI = entry.DPI
		}
	}

	currentDPI := targetDPI
	imageSig := ""

	for {
		if r.sess.Cancelled() || ctx.Err() != nil {
			break
		}

		raw := ""
		var avgConf *float64
		img, err := r.sess.RenderPage(page, float64(currentDPI))
		if err != nil {
			r.log.Debug().Err(err).Int("page", page).Int("dpi", currentDPI).Msg("page render failed")
		} else {
			gray := cropScope(toGray(img), scope, pct)
			prepped := prepare(gray)
			if scope == models.ScopeFull {
				imageSig = graySignature(prepped)
			}
			res, err := r.engine.Recognize(ctx, prepped)
			if err != nil {
				r.log.Debug().Err(err).Int("page", page).Str("scope", string(scope)).Msg("recognition failed")
			} else {
				raw = res.Raw
				avgConf = res.AvgConf
			}
		}

		r.sess.MergeRaw(page, raw)
		cleaned := session.Clean(raw)
		combinedClean := session.Clean(r.sess.RawText(page))
		length := len(combinedClean)
		if scope != models.ScopeFull {
			length = len(cleaned)
		}

		entry = &models.OCREntry{
			Raw:      r.sess.RawText(page),
			Clean:    combinedClean,
			DPI:      currentDPI,
			AvgConf:  avgConf,
			Length:   length,
			Scope:    scope,
			ImageSig: imageSig,
		}
		r.mem[key] = entry

		if !needsEscalation(scope, length, avgConf, currentDPI) {
			break
		}
		next := nextDPI(currentDPI)
		if next <= currentDPI {
			break
		}
		r.log.Debug().Int("page", page).Str("scope", string(scope)).
			Int("from", currentDPI).Int("to", next).
			Int("length", length).Msg("escalating OCR DPI")
		currentDPI = next
	}

	if final := r.mem[key]; final != nil {
		if scope == models.ScopeFull && imageSig != "" && final.ImageSig == "" {
			final.ImageSig = imageSig
		}
		if r.disk != nil {
			r.disk.Save(page, scope, final)
		}
		return final
	}
	return nil
}

// PageSignature returns the perceptual fingerprint of a page render at a
// fixed low DPI, memoized per page. Empty string when rendering fails.
func (r *Runner) PageSignature(page int) string {
	if sig, ok := r.sigs[page]; ok {
		return sig
	}
	img, err := r.sess.RenderPage(page, signatureDPI)
	if err != nil {
		r.log.Debug().Err(err).Int("page", page).Msg("signature render failed")
		return ""
	}
	sig := graySignature(toGray(img))
	r.sigs[page] = sig
	return sig
}

// ForceFullPage OCRs a whole page at high DPI regardless of how much native
// text it has, short-circuiting through the forced ledger, the disk tier and
// the rule's template store before paying for recognition. Rule-attributed
// results are saved back as templates.
func (r *Runner) ForceFullPage(ctx context.Context, page int, reason string, force bool, rule, seed string) {
	key := memKey{page: page, scope: models.ScopeFull}

	if !force && r.forced[key] {
		if cached := r.mem[key]; cached != nil {
			r.applyEntry(page, cached)
			if rule != "" && r.templates != nil && cached.Clean != "" {
				r.templates.Save(rule, cached, cached.Clean)
			}
		}
		return
	}

	if r.mem[key] == nil && r.disk != nil && !force {
		if diskEntry := r.disk.Load(page, models.ScopeFull); diskEntry != nil {
			r.mem[key] = diskEntry
			r.applyEntry(page, diskEntry)
			r.forced[key] = true
			r.log.Debug().Int("page", page).Str("reason", reason).Msg("restored cached OCR")
			return
		}
	}

	if !force && rule != "" && r.templates != nil {
		if seed == "" {
			seed = r.sess.CleanText(ctx, page)
		}
		tmpl := r.templates.Match(rule, seed, "")
		if tmpl == nil {
			if sig := r.PageSignature(page); sig != "" {
				tmpl = r.templates.Match(rule, seed, sig)
			}
		}
		if tmpl != nil {
			entry := tmpl.Entry()
			r.mem[key] = &entry
			r.applyEntry(page, &entry)
			r.forced[key] = true
			if r.disk != nil {
				r.disk.Save(page, models.ScopeFull, &entry)
			}
			r.log.Debug().Int("page", page).Str("rule", rule).Msg("template cache hit")
			return
		}
	}

	if r.forced[key] && !force {
		return
	}

	r.log.Debug().Int("page", page).Str("reason", reason).Msg("forcing full-page OCR")
	entry := r.Run(ctx, page, models.ScopeFull, defaultFullPct, dpiForced)
	r.forced[key] = true
	if rule != "" && r.templates != nil && entry != nil && entry.Clean != "" {
		r.templates.Save(rule, entry, entry.Clean)
	}
}

// BottomStrip OCRs the bottom 60% of a page at high DPI, the targeted
// assist for end cues on scanned signature pages.
func (r *Runner) BottomStrip(ctx context.Context, page int) {
	r.Run(ctx, page, models.ScopeBottomStrip, bottomStripPct, dpiForced)
}

// SaveTemplate persists the page's current text as a template for a rule.
// No-op when the page has no cached clean text yet.
func (r *Runner) SaveTemplate(rule string, page int) {
	if rule == "" || r.templates == nil {
		return
	}
	clean := r.sess.CachedClean(page)
	if clean == "" {
		return
	}
	raw := r.sess.RawText(page)
	if raw == "" {
		raw = clean
	}
	entry := models.OCREntry{
		Raw:    raw,
		Clean:  clean,
		Length: len(clean),
		Scope:  models.ScopeFull,
	}
	if mem := r.mem[memKey{page: page, scope: models.ScopeFull}]; mem != nil {
		entry.DPI = mem.DPI
		entry.AvgConf = mem.AvgConf
		entry.ImageSig = mem.ImageSig
	}
	if entry.ImageSig == "" {
		entry.ImageSig = r.sigs[page]
	}
	r.templates.Save(rule, &entry, clean)
}

// MaybeForceFullPage force-OCRs a page only when its current clean text is
// below the force threshold. Reports whether OCR was attempted.
func (r *Runner) MaybeForceFullPage(ctx context.Context, page int, reason, pageText, rule string) bool {
	if len(pageText) >= ForceTextThreshold {
		return false
	}
	r.ForceFullPage(ctx, page, reason, false, rule, pageText)
	return true
}

// PrefetchSuspects OCRs thin-text pages up front so the matching passes see
// their text immediately. maxPages <= 0 means no cap. With forceFull the
// pages go through the forced path (high DPI, template reuse).
func (r *Runner) PrefetchSuspects(ctx context.Context, maxPages int, forceFull bool) {
	done := 0
	for _, page := range r.sess.SuspectPages() {
		if r.sess.Cancelled() || ctx.Err() != nil {
			return
		}
		if len(r.sess.RawText(page)) >= 10 {
			continue
		}
		if forceFull {
			r.ForceFullPage(ctx, page, "initial batch", false, "", "")
		} else {
			r.Run(ctx, page, models.ScopeFull, defaultFullPct, 0)
		}
		done++
		if maxPages > 0 && done >= maxPages {
			return
		}
	}
}
