package match

import (
	"context"
	"regexp"
	"strings"

	"bindersplit/internal/rules"
)

// End-cue OCR assist thresholds. Pages below the scanned threshold are
// force-OCR'd whole; pages in the ambiguous band get a bottom-strip pass
// when they look like a signature page with timestamps but no form text.
const (
	endAssistScannedLen   = 500
	endAssistAmbiguousLow = 200
	endAssistAmbiguousTop = 2000
	endAssistNearEnd      = 4
)

var (
	endAssistDate     = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
	endAssistKeywords = []string{"BROKER", "SIGNATURE", "COMPLETION", "INDICATE", "INTERESTS", "APPLICANT", "CONSENT"}

	sigCompletionCert = regexp.MustCompile(`\bDOCUMENT\s+COMPLETION\s+CERTIFICATE\b`)
	sigDocHistory     = regexp.MustCompile(`\bDOCUMENT\s+HISTORY\b`)
	sigDealerBind     = regexp.MustCompile(`\bDEALER\s+POLICY\s+BIND\s+PACKAGE\b`)
	sigAgreementDone  = regexp.MustCompile(`\bAGREEMENT\s+COMPLETED\b`)
	sigAdobeSign      = regexp.MustCompile(`\bADOBE\s+ACROBAT\s+SIGN\b`)
)

// MatchRangeStart reports whether a range rule starts at a page. Gate order:
// forbid_any, require_any (with fallback to the previous page), helpful_cues,
// start.any_cues, start.next_page_hits. When require_any was satisfied from
// the previous page, a lookback hint is recorded so the caller backs the
// range start up one page.
func (m *Matcher) MatchRangeStart(ctx context.Context, r *rules.CompiledRule, page int) bool {
	text := m.src.CleanText(ctx, page)
	delete(m.lookback, lookKey{rule: r.Name, page: page})

	if m.patternHits(ctx, r, "forbid_any", r.ForbidAny, page) > 0 {
		return false
	}

	requireFromPrev := false
	if len(r.RequireAny) > 0 && m.patternHits(ctx, r, "require_any", r.RequireAny, page) == 0 {
		req := 0
		if r.OCRRetry && m.assist != nil {
			if m.assist.MaybeForceFullPage(ctx, page, "range require cue missing", text, r.Name) {
				text = m.src.CleanText(ctx, page)
				req = m.patternHits(ctx, r, "require_any", r.RequireAny, page)
			}
		}
		if req == 0 {
			fallbackCurrent := plainHits(text, r.Start.FallbackCues)
			if !r.Start.FallbackToPrevious || len(r.Start.FallbackCues) == 0 || fallbackCurrent == 0 || page == 0 {
				return false
			}
			if r.OCRRetry && m.assist != nil {
				m.assist.MaybeForceFullPage(ctx, page-1, "range require previous", m.src.CleanText(ctx, page-1), r.Name)
			}
			if m.patternHits(ctx, r, "require_any", r.RequireAny, page-1) == 0 {
				return false
			}
			m.lookback[lookKey{rule: r.Name, page: page}] = true
			requireFromPrev = true
		}
	}

	if len(r.HelpfulCues) > 0 {
		helpful := m.patternHits(ctx, r, "helpful_cues", r.HelpfulCues, page)
		if helpful < r.MinHelpful {
			if r.OCRRetry && m.assist != nil {
				if m.assist.MaybeForceFullPage(ctx, page, "range helpful cue missing", text, r.Name) {
					text = m.src.CleanText(ctx, page)
					helpful = m.patternHits(ctx, r, "helpful_cues", r.HelpfulCues, page)
				}
			}
			if helpful < r.MinHelpful && requireFromPrev && page > 0 {
				prevText := m.src.CleanText(ctx, page-1)
				if r.OCRRetry && m.assist != nil {
					if m.assist.MaybeForceFullPage(ctx, page-1, "range helpful previous", prevText, r.Name) {
						m.src.CleanText(ctx, page-1)
					}
				}
				if prevHelpful := m.patternHits(ctx, r, "helpful_cues", r.HelpfulCues, page-1); prevHelpful >= r.MinHelpful {
					helpful = prevHelpful
				}
			}
			if helpful < r.MinHelpful {
				return false
			}
		}
	}

	if len(r.Start.AnyCues) > 0 {
		hits := m.patternHits(ctx, r, "start.any_cues", r.Start.AnyCues, page)
		if hits == 0 && r.OCRRetry && m.assist != nil {
			if m.assist.MaybeForceFullPage(ctx, page, "range start cue missing", text, r.Name) {
				hits = m.patternHits(ctx, r, "start.any_cues", r.Start.AnyCues, page)
			}
		}
		if hits == 0 {
			return false
		}
	}

	if len(r.Start.NextPageHits) > 0 && page+1 < m.src.PageCount() {
		if plainHits(m.src.CleanText(ctx, page+1), r.Start.NextPageHits) < r.Start.MinHitsNext {
			return false
		}
	}

	return true
}

// takeLookbackHint pops the one-shot lookback hint recorded by
// MatchRangeStart for a (rule, start page) pair.
func (m *Matcher) takeLookbackHint(rule string, page int) bool {
	key := lookKey{rule: rule, page: page}
	hinted := m.lookback[key]
	delete(m.lookback, key)
	return hinted
}

// FindRangeEnd locates the last page of a range that starts at start.
// Returns the end index, whether an end cue actually confirmed it (false
// means the fallback boundary was used), and the cue pattern that matched.
func (m *Matcher) FindRangeEnd(ctx context.Context, r *rules.CompiledRule, start int) (int, bool, *rules.Pattern) {
	n := m.src.PageCount()

	switch r.End.Mode {
	case rules.EndModeSignature:
		end, ok := m.signatureEnd(ctx, start)
		return end, ok, nil
	case rules.EndModeNextTable:
		end, ok := m.nextTableEnd(ctx, start)
		return end, ok, nil
	}

	scanLimit := n - 1
	if r.End.MaxPages > 0 && start+r.End.MaxPages-1 < scanLimit {
		scanLimit = start + r.End.MaxPages - 1
	}

	var otherStarts []rules.Pattern
	if r.End.StopBeforeNewStart {
		own := make(map[string]bool, len(r.Start.AnyCues))
		for _, p := range r.Start.AnyCues {
			own[p.Source] = true
		}
		for _, p := range m.allStartPats {
			if !own[p.Source] {
				otherStarts = append(otherStarts, p)
			}
		}
	}

	if start+1 > scanLimit {
		if r.End.FallbackToEnd {
			return scanLimit, false, nil
		}
		return start, false, nil
	}

	deepAssist := r.Name == dealerRuleName

	for j := start + 1; j <= scanLimit; j++ {
		if m.src.Cancelled() || ctx.Err() != nil {
			break
		}

		pageText := m.src.CleanText(ctx, j)

		// Early boundary: the page looks like a different document's start.
		if len(otherStarts) > 0 && plainHits(pageText, otherStarts) > 0 {
			return j - 1, true, nil
		}

		if len(r.End.FirstCue) > 0 {
			pageText = m.endAssistOCR(ctx, r, j, start, pageText, deepAssist)
		}

		if len(r.End.FirstCue) > 0 {
			if pat, ok := m.patternFirst(ctx, r, "end.first_cue", r.End.FirstCue, j); ok {
				if r.End.NearBottomFrac > 0 {
					frac := r.End.NearBottomFrac
					if frac > 0.99 {
						frac = 0.99
					}
					pos := pat.Find(pageText)
					if pos < 0 || pos < int(float64(len(pageText))*(1.0-frac)) {
						continue
					}
				}
				m.log.Debug().Str("rule", r.Name).Int("page", j).Str("pattern", pat.Source).Msg("end cue matched")
				return j, true, &pat
			}
		}
	}

	if r.End.FallbackToEnd {
		return scanLimit, false, nil
	}
	return start, false, nil
}

// endAssistOCR re-OCRs a candidate end page whose text is too thin or too
// ambiguous to carry the end cue, returning the refreshed clean text.
// Scanned signature pages routinely lose the cue to native extraction.
func (m *Matcher) endAssistOCR(ctx context.Context, r *rules.CompiledRule, page, start int, pageText string, deepAssist bool) string {
	if m.assist == nil {
		return pageText
	}
	if !deepAssist && !m.src.AllowOCR() {
		return pageText
	}
	if !deepAssist && page < start+endAssistNearEnd {
		return pageText
	}

	needsOCR := false
	reason := ""
	switch {
	case len(pageText) < endAssistScannedLen && plainHits(pageText, r.End.FirstCue) == 0:
		needsOCR = true
		reason = "very little text (likely scanned)"
	case len(pageText) > endAssistAmbiguousLow && len(pageText) < endAssistAmbiguousTop && plainHits(pageText, r.End.FirstCue) == 0:
		hasDates := endAssistDate.MatchString(pageText)
		hasTimes := strings.Contains(pageText, "PM") || strings.Contains(pageText, "AM") || strings.Contains(pageText, "UTC")
		if hasDates && hasTimes && !containsAny(pageText, endAssistKeywords) {
			needsOCR = true
			reason = "has dates/times but missing form text"
		}
	}
	if !needsOCR {
		return pageText
	}

	if deepAssist && len(pageText) < endAssistScannedLen {
		m.assist.ForceFullPage(ctx, page, reason, false, r.Name, pageText)
	} else {
		m.assist.BottomStrip(ctx, page)
	}
	return m.src.CleanText(ctx, page)
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

// signatureEnd handles e-signature completion packages: the terminal marker
// can repeat, so the range ends at the LAST page carrying it.
func (m *Matcher) signatureEnd(ctx context.Context, start int) (int, bool) {
	n := m.src.PageCount()
	startText := m.src.CleanText(ctx, start)

	if sigCompletionCert.MatchString(startText) {
		last := -1
		for j := start; j < n; j++ {
			if sigDocHistory.MatchString(m.src.CleanText(ctx, j)) {
				last = j
			}
		}
		if last >= 0 {
			return last, true
		}
		return n - 1, false
	}

	if sigDealerBind.MatchString(startText) {
		last := -1
		for j := start; j < n; j++ {
			text := m.src.CleanText(ctx, j)
			if sigAgreementDone.MatchString(text) || sigAdobeSign.MatchString(text) {
				last = j
			}
		}
		if last >= 0 {
			return last, true
		}
		return n - 1, false
	}

	return n - 1, false
}

// nextTableEnd ends a range at the next table-like page, scanning at most
// two pages past the start, else defaults to a two-page range.
func (m *Matcher) nextTableEnd(ctx context.Context, start int) (int, bool) {
	n := m.src.PageCount()
	j := start + 1
	if j < n && m.src.LooksLikeTable(j) {
		return j, true
	}
	scanUpto := start + 2
	if scanUpto > n-1 {
		scanUpto = n - 1
	}
	for k := j + 1; k <= scanUpto; k++ {
		if m.src.Cancelled() || ctx.Err() != nil {
			break
		}
		if m.src.LooksLikeTable(k) {
			return k, true
		}
	}
	if start+1 < n {
		return start + 1, true
	}
	return n - 1, false
}

// prebatch force-OCRs thin pages in a window around a detected range start,
// so end detection sees real text instead of escalating page by page.
func (m *Matcher) prebatch(ctx context.Context, r *rules.CompiledRule, start int) {
	if r.PrebatchSpan <= 0 || m.assist == nil {
		return
	}
	n := m.src.PageCount()
	from := start - r.PrebatchLookback
	if from < 0 {
		from = 0
	}
	to := start + r.PrebatchSpan
	if to > n {
		to = n
	}
	for j := from; j < to; j++ {
		if m.src.Cancelled() || ctx.Err() != nil {
			return
		}
		m.assist.MaybeForceFullPage(ctx, j, r.Name+" prebatch", m.src.CleanText(ctx, j), r.Name)
	}
}
