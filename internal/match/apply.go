package match

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bindersplit/internal/rules"
	"bindersplit/pkg/models"
)

// Two-rule coupling: a standalone location page matched by its own rule is
// spliced into the middle of a dealer application range. A documented
// special case, not a general mechanism.
const (
	dealerRuleName   = "Dealer Application"
	locationRuleName = "Location Page DA"
)

// Saver persists matched documents. *output.Writer is the production
// implementation; tests substitute a recorder.
type Saver interface {
	SaveRange(start, end int, name string) (string, error)
	SaveSingle(page int, name string) (string, error)
	SaveSpliced(start, end, location int, name string) (string, error)
}

// Outcome is the result of one full rule pass.
type Outcome struct {
	AutoSaved   int
	SavedPaths  []string
	PromptItems []models.PromptItem
	Lines       []string
	Stats       models.MatchStats
}

type dealerMatch struct {
	start, end int
	prefix     string
	hitOK      bool
}

type locationMatch struct {
	page   int
	prefix string
}

// Progress phase boundaries, in percent of a full pass.
const (
	progressTextDone   = 10
	progressRangeDone  = 50
	progressSingleDone = 80
	progressPostDone   = 95
)

// ApplyRules runs the full rule pass: junk detection, range rules in
// priority order, single-page rules over unclaimed pages, then the
// dealer/location splice. Prompt-flagged matches become PromptItems instead
// of files. The claimed-page set guarantees no two matches overlap.
func (m *Matcher) ApplyRules(ctx context.Context, saver Saver, progress func(int)) (*Outcome, error) {
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}
	n := m.src.PageCount()
	out := &Outcome{}

	// Warm the text caches up front so rule passes are pure lookups.
	for i := 0; i < n; i++ {
		if m.src.Cancelled() || ctx.Err() != nil {
			return out, nil
		}
		m.src.CleanText(ctx, i)
	}
	report(progressTextDone)

	claimed, notes := m.DetectJunk(ctx)
	out.Lines = append(out.Lines, notes...)

	var rangeRules, singleRules []*rules.CompiledRule
	for _, r := range m.rules {
		switch r.Scope {
		case rules.ScopeRange:
			rangeRules = append(rangeRules, r)
		case rules.ScopeSinglePage:
			singleRules = append(singleRules, r)
		}
	}

	var dealers []dealerMatch
	var locations []locationMatch

	for idx, r := range rangeRules {
		if m.src.Cancelled() || ctx.Err() != nil {
			break
		}
		ruleStart := time.Now()
		matched := 0

		i := 0
		for i < n {
			if m.src.Cancelled() || ctx.Err() != nil {
				break
			}
			if claimed[i] {
				i++
				continue
			}
			if !m.MatchRangeStart(ctx, r, i) {
				i++
				continue
			}
			matched++

			start := m.resolveRangeStart(ctx, r, i)
			m.prebatch(ctx, r, start)
			if m.assist != nil {
				m.assist.SaveTemplate(r.Name, start)
			}

			end, hitOK, _ := m.FindRangeEnd(ctx, r, start)
			outName := tagIfMissed(r.Output.Filename, !hitOK)

			if r.Name == dealerRuleName && !r.Output.Prompt {
				dealers = append(dealers, dealerMatch{start: start, end: end, prefix: outName, hitOK: hitOK})
				claimRange(claimed, start, end)
				i = end + 1
				continue
			}

			if r.Output.Prompt {
				preview := previewPage(r, start, end)
				out.PromptItems = append(out.PromptItems, models.PromptItem{
					Kind:        "range",
					Start:       start,
					End:         end,
					PreviewPage: preview,
					Prefix:      outName,
					Ext:         ".pdf",
				})
				claimRange(claimed, start, end)
				out.Lines = append(out.Lines, rangeLine(r.Name, start, end, hitOK, true))
			} else {
				path, err := saver.SaveRange(start, end, outName)
				if err != nil {
					return out, fmt.Errorf("match: save range %s pages %d-%d: %w", r.Name, start+1, end+1, err)
				}
				out.SavedPaths = append(out.SavedPaths, path)
				claimRange(claimed, start, end)
				out.AutoSaved++
				out.Lines = append(out.Lines, rangeLine(r.Name, start, end, hitOK, false))
			}
			i = end + 1
		}

		out.Stats.Range = append(out.Stats.Range, models.RuleTiming{Rule: r.Name, Matches: matched, Elapsed: time.Since(ruleStart)})
		report(scalePhase(progressTextDone, progressRangeDone, idx+1, len(rangeRules)))
	}

	for idx, r := range singleRules {
		if m.src.Cancelled() || ctx.Err() != nil {
			break
		}
		ruleStart := time.Now()
		matched := 0
		prefix := r.Output.Filename

		for i := 0; i < n; i++ {
			if m.src.Cancelled() || ctx.Err() != nil {
				break
			}
			if claimed[i] || !m.MatchSinglePage(ctx, r, i) {
				continue
			}
			matched++

			if r.Name == locationRuleName && !r.Output.Prompt {
				locations = append(locations, locationMatch{page: i, prefix: prefix})
				claimed[i] = true
				continue
			}

			if r.Output.Prompt {
				out.PromptItems = append(out.PromptItems, models.PromptItem{
					Kind:   "single",
					Page:   i,
					Prefix: prefix,
					Ext:    ".pdf",
				})
				claimed[i] = true
				out.Lines = append(out.Lines, fmt.Sprintf("%s %d (preview)", r.Name, i+1))
			} else {
				path, err := saver.SaveSingle(i, prefix)
				if err != nil {
					return out, fmt.Errorf("match: save single %s page %d: %w", r.Name, i+1, err)
				}
				out.SavedPaths = append(out.SavedPaths, path)
				claimed[i] = true
				out.AutoSaved++
				out.Lines = append(out.Lines, fmt.Sprintf("%s %d", r.Name, i+1))
			}
		}

		out.Stats.Single = append(out.Stats.Single, models.RuleTiming{Rule: r.Name, Matches: matched, Elapsed: time.Since(ruleStart)})
		report(scalePhase(progressRangeDone, progressSingleDone, idx+1, len(singleRules)))
	}

	report(progressSingleDone)

	// Dealer/location splice: pair each dealer range with the next
	// standalone location page; unpaired locations save on their own.
	for _, d := range dealers {
		if len(locations) > 0 {
			loc := locations[0]
			locations = locations[1:]
			path, err := saver.SaveSpliced(d.start, d.end, loc.page, d.prefix)
			if err != nil {
				return out, fmt.Errorf("match: save spliced dealer pages %d-%d: %w", d.start+1, d.end+1, err)
			}
			out.SavedPaths = append(out.SavedPaths, path)
			out.AutoSaved++
			out.Lines = append(out.Lines, fmt.Sprintf("%s %d-%d (with Location page %d)", dealerRuleName, d.start+1, d.end+1, loc.page+1))
			continue
		}
		path, err := saver.SaveRange(d.start, d.end, d.prefix)
		if err != nil {
			return out, fmt.Errorf("match: save dealer pages %d-%d: %w", d.start+1, d.end+1, err)
		}
		out.SavedPaths = append(out.SavedPaths, path)
		out.AutoSaved++
		out.Lines = append(out.Lines, rangeLine(dealerRuleName, d.start, d.end, d.hitOK, false))
	}
	for _, loc := range locations {
		path, err := saver.SaveSingle(loc.page, loc.prefix)
		if err != nil {
			return out, fmt.Errorf("match: save location page %d: %w", loc.page+1, err)
		}
		out.SavedPaths = append(out.SavedPaths, path)
		out.AutoSaved++
		out.Lines = append(out.Lines, fmt.Sprintf("%s %d", locationRuleName, loc.page+1))
	}

	report(progressPostDone)
	return out, nil
}

// resolveRangeStart backs a matched start page up one page when the
// require-lookback hint fired or when lookback_header finds the rule's
// header cues detached onto the previous page.
func (m *Matcher) resolveRangeStart(ctx context.Context, r *rules.CompiledRule, matchedPage int) int {
	start := matchedPage
	if m.takeLookbackHint(r.Name, matchedPage) && start > 0 {
		return start - 1
	}
	if !r.Start.LookbackHeader || start == 0 {
		return start
	}

	fallbackCurrent := plainHits(m.src.CleanText(ctx, start), r.Start.FallbackCues)
	prevText := m.src.CleanText(ctx, start-1)
	prevHits := plainHits(prevText, r.Start.AnyCues)

	if prevHits == 0 && r.OCRRetry && m.assist != nil {
		m.assist.ForceFullPage(ctx, start-1, "range lookback header", false, r.Name, prevText)
		prevText = m.src.CleanText(ctx, start-1)
		prevHits = plainHits(prevText, r.Start.AnyCues)
	}
	if len(r.Start.LookbackPrevForbid) > 0 && plainHits(prevText, r.Start.LookbackPrevForbid) > 0 {
		prevHits = 0
	}

	fallbackPrevHits := 0
	if prevHits == 0 && r.Start.FallbackToPrevious && len(r.Start.FallbackCues) > 0 && fallbackCurrent > 0 {
		fallbackPrevHits = plainHits(prevText, r.Start.FallbackCues)
		if fallbackPrevHits == 0 && r.OCRRetry && m.assist != nil {
			m.assist.ForceFullPage(ctx, start-1, "range fallback header", false, r.Name, prevText)
			prevText = m.src.CleanText(ctx, start-1)
			fallbackPrevHits = plainHits(prevText, r.Start.FallbackCues)
		}
		if len(r.Start.LookbackPrevForbid) > 0 && plainHits(prevText, r.Start.LookbackPrevForbid) > 0 {
			fallbackPrevHits = 0
		}
	}

	if prevHits > 0 || fallbackPrevHits > 0 {
		return start - 1
	}
	return start
}

func claimRange(claimed map[int]bool, start, end int) {
	for p := start; p <= end; p++ {
		claimed[p] = true
	}
}

func previewPage(r *rules.CompiledRule, start, end int) int {
	offset := r.Output.PreviewOffset
	if r.Output.PreviewIndex >= 0 {
		offset = r.Output.PreviewIndex
	}
	if offset < 0 {
		offset = 0
	}
	preview := start + offset
	if preview > end {
		preview = end
	}
	if preview < start {
		preview = start
	}
	return preview
}

// tagIfMissed appends the missed-end-cue marker so the soft failure is
// visible in the saved filename.
func tagIfMissed(name string, missed bool) string {
	if !missed {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + " - missed end cue" + ext
}

func rangeLine(rule string, start, end int, hitOK, preview bool) string {
	line := fmt.Sprintf("%s %d-%d", rule, start+1, end+1)
	if preview {
		line += " (preview)"
	}
	if !hitOK {
		line += " (missed end cue)"
	}
	return line
}

func scalePhase(from, to, done, total int) int {
	if total <= 0 {
		return to
	}
	return from + (to-from)*done/total
}
