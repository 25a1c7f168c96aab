package match

import (
	"context"

	"bindersplit/internal/rules"
)

// MatchSinglePage reports whether a single-page rule classifies a page.
// Gate order: start.any_cues, forbid_any, require_any, helpful_cues. For
// rules with ocr_retry, a missing cue on a thin-text page triggers one
// forced full-page OCR before the gate is re-tested.
func (m *Matcher) MatchSinglePage(ctx context.Context, r *rules.CompiledRule, page int) bool {
	text := m.src.CleanText(ctx, page)

	if len(r.Start.AnyCues) > 0 {
		hits := m.patternHits(ctx, r, "start.any_cues", r.Start.AnyCues, page)
		if hits == 0 && r.OCRRetry && m.assist != nil {
			if m.assist.MaybeForceFullPage(ctx, page, "start cue missing", text, r.Name) {
				text = m.src.CleanText(ctx, page)
				hits = m.patternHits(ctx, r, "start.any_cues", r.Start.AnyCues, page)
			}
		}
		if hits == 0 {
			return false
		}
	}

	if m.patternHits(ctx, r, "forbid_any", r.ForbidAny, page) > 0 {
		return false
	}

	if len(r.RequireAny) > 0 {
		req := m.patternHits(ctx, r, "require_any", r.RequireAny, page)
		if req == 0 && r.OCRRetry && m.assist != nil {
			if m.assist.MaybeForceFullPage(ctx, page, "require cue missing", text, r.Name) {
				text = m.src.CleanText(ctx, page)
				req = m.patternHits(ctx, r, "require_any", r.RequireAny, page)
			}
		}
		if req == 0 {
			return false
		}
	}

	if len(r.HelpfulCues) > 0 {
		helpful := m.patternHits(ctx, r, "helpful_cues", r.HelpfulCues, page)
		if helpful < r.MinHelpful && r.OCRRetry && m.assist != nil {
			if m.assist.MaybeForceFullPage(ctx, page, "helpful cue missing", text, r.Name) {
				helpful = m.patternHits(ctx, r, "helpful_cues", r.HelpfulCues, page)
			}
		}
		if helpful < r.MinHelpful {
			return false
		}
	}

	if m.assist != nil {
		m.assist.SaveTemplate(r.Name, page)
	}
	return true
}
