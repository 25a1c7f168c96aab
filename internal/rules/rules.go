// Package rules loads and compiles the classification rule set that drives
// binder splitting.
//
// Rules live in a JSON array, one object per document type, ordered at load
// time by descending priority. Every pattern string is compiled once; an
// invalid pattern is a load-time fatal error. The compiled form is immutable:
// matching code never mutates a CompiledRule after Load returns.
//
// Rule schema (all pattern fields are lists of regex source strings matched
// against cleaned page text):
//
//   - scope: "range" or "single_page"
//   - require_any / forbid_any / helpful_cues (+ min_helpful)
//   - ocr_retry: grants the rule forced full-page OCR retries when a cue
//     is missing and the page text is thin
//   - prebatch_span / prebatch_lookback: forced-OCR prefetch window around
//     a detected range start
//   - start: any_cues, next_page_hits/min_hits_next, fallback_cues/
//     fallback_to_previous, lookback_header, lookback_prev_forbid
//   - end: first_cue, mode ("signature_rules" | "next_table_page" | cue scan),
//     stop_before_new_start, near_bottom_frac, max_pages, fallback_to_end
//   - output: filename ("YY" expands to the two-digit year), prompt,
//     preview_index, preview_offset
package rules

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// RuleScope distinguishes multi-page from single-page rules.
type RuleScope string

const (
	ScopeRange      RuleScope = "range"
	ScopeSinglePage RuleScope = "single_page"
)

// EndMode selects the range end detection strategy.
type EndMode string

const (
	// EndModeCueScan scans forward for end.first_cue (the default).
	EndModeCueScan EndMode = ""

	// EndModeSignature scans for the terminal marker of e-signature
	// completion packages and returns the last page carrying it.
	EndModeSignature EndMode = "signature_rules"

	// EndModeNextTable returns the next table-like page.
	EndModeNextTable EndMode = "next_table_page"
)

// Pattern is a compiled cue. Source is the authored regex string and doubles
// as the pattern's stable identity for region-hint binding and cross-rule
// bookkeeping, so identity survives reload and recompilation.
type Pattern struct {
	Source string
	Re     *regexp.Regexp
}

// Match reports whether the pattern occurs in text.
func (p Pattern) Match(text string) bool {
	return p.Re.MatchString(text)
}

// Find returns the byte offset of the first occurrence, or -1.
func (p Pattern) Find(text string) int {
	loc := p.Re.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// StartSpec gates the first page of a range match.
type StartSpec struct {
	AnyCues            []Pattern
	NextPageHits       []Pattern
	MinHitsNext        int
	FallbackCues       []Pattern
	FallbackToPrevious bool
	LookbackHeader     bool
	LookbackPrevForbid []Pattern
}

// EndSpec controls how the last page of a range is found.
type EndSpec struct {
	FirstCue           []Pattern
	Mode               EndMode
	StopBeforeNewStart bool
	NearBottomFrac     float64 // 0 disables the bottom-of-page filter
	MaxPages           int     // 0 means unbounded
	FallbackToEnd      bool
}

// OutputSpec names the saved file and flags reviewer-facing matches.
type OutputSpec struct {
	Filename      string
	Prompt        bool
	PreviewIndex  int // -1 when unset
	PreviewOffset int
}

// CompiledRule is one immutable classification rule.
type CompiledRule struct {
	Name     string
	Priority int
	Scope    RuleScope

	// CacheID is a stable content hash of the rule name and every pattern
	// source, used to key per-rule caches across processes.
	CacheID string

	RequireAny  []Pattern
	ForbidAny   []Pattern
	HelpfulCues []Pattern
	MinHelpful  int

	OCRRetry         bool
	PrebatchSpan     int
	PrebatchLookback int

	Start  StartSpec
	End    EndSpec
	Output OutputSpec

	// hints maps target -> pattern source -> vertical bands.
	hints map[string]map[string][]Band
}

// HintBands returns the region-hint bands for a target/pattern pair,
// or nil when the whole page should be searched.
func (r *CompiledRule) HintBands(target string, p Pattern) []Band {
	tm := r.hints[target]
	if tm == nil {
		return nil
	}
	return tm[p.Source]
}

type ruleSpec struct {
	Name             string   `json:"name"`
	Priority         int      `json:"priority"`
	Scope            string   `json:"scope"`
	RequireAny       []string `json:"require_any"`
	ForbidAny        []string `json:"forbid_any"`
	HelpfulCues      []string `json:"helpful_cues"`
	MinHelpful       int      `json:"min_helpful"`
	OCRRetry         bool     `json:"ocr_retry"`
	PrebatchSpan     int      `json:"prebatch_span"`
	PrebatchLookback int      `json:"prebatch_lookback"`
	Start            *struct {
		AnyCues            []string `json:"any_cues"`
		NextPageHits       []string `json:"next_page_hits"`
		MinHitsNext        *int     `json:"min_hits_next"`
		FallbackCues       []string `json:"fallback_cues"`
		FallbackToPrevious bool     `json:"fallback_to_previous"`
		LookbackHeader     bool     `json:"lookback_header"`
		LookbackPrevForbid []string `json:"lookback_prev_forbid"`
	} `json:"start"`
	End *struct {
		FirstCue           []string `json:"first_cue"`
		Mode               string   `json:"mode"`
		StopBeforeNewStart bool     `json:"stop_before_new_start"`
		NearBottomFrac     float64  `json:"near_bottom_frac"`
		MaxPages           int      `json:"max_pages"`
		FallbackToEnd      *bool    `json:"fallback_to_end"`
	} `json:"end"`
	Output *struct {
		Filename      string `json:"filename"`
		Prompt        bool   `json:"prompt"`
		PreviewIndex  *int   `json:"preview_index"`
		PreviewOffset int    `json:"preview_offset"`
	} `json:"output"`
}

func compileList(rule, field string, sources []string) ([]Pattern, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	out := make([]Pattern, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, WrapRulesError("compileList", ErrInvalidPattern,
				fmt.Sprintf("rule %q field %s pattern %q: %v", rule, field, src, err))
		}
		out = append(out, Pattern{Source: src, Re: re})
	}
	return out, nil
}

func (s *ruleSpec) compile(idx *HintIndex) (*CompiledRule, error) {
	r := &CompiledRule{
		Name:             s.Name,
		Priority:         s.Priority,
		Scope:            RuleScope(s.Scope),
		MinHelpful:       s.MinHelpful,
		OCRRetry:         s.OCRRetry,
		PrebatchSpan:     s.PrebatchSpan,
		PrebatchLookback: s.PrebatchLookback,
	}
	if r.Scope != ScopeRange && r.Scope != ScopeSinglePage {
		return nil, WrapRulesError("compile", ErrInvalidRule,
			fmt.Sprintf("rule %q has unknown scope %q", s.Name, s.Scope))
	}

	var err error
	if r.RequireAny, err = compileList(s.Name, "require_any", s.RequireAny); err != nil {
		return nil, err
	}
	if r.ForbidAny, err = compileList(s.Name, "forbid_any", s.ForbidAny); err != nil {
		return nil, err
	}
	if r.HelpfulCues, err = compileList(s.Name, "helpful_cues", s.HelpfulCues); err != nil {
		return nil, err
	}

	if s.Start != nil {
		st := StartSpec{
			FallbackToPrevious: s.Start.FallbackToPrevious,
			LookbackHeader:     s.Start.LookbackHeader,
			MinHitsNext:        1,
		}
		if s.Start.MinHitsNext != nil {
			st.MinHitsNext = *s.Start.MinHitsNext
		}
		if st.AnyCues, err = compileList(s.Name, "start.any_cues", s.Start.AnyCues); err != nil {
			return nil, err
		}
		if st.NextPageHits, err = compileList(s.Name, "start.next_page_hits", s.Start.NextPageHits); err != nil {
			return nil, err
		}
		if st.FallbackCues, err = compileList(s.Name, "start.fallback_cues", s.Start.FallbackCues); err != nil {
			return nil, err
		}
		if st.LookbackPrevForbid, err = compileList(s.Name, "start.lookback_prev_forbid", s.Start.LookbackPrevForbid); err != nil {
			return nil, err
		}
		r.Start = st
	}

	if s.End != nil {
		en := EndSpec{
			Mode:               EndMode(s.End.Mode),
			StopBeforeNewStart: s.End.StopBeforeNewStart,
			NearBottomFrac:     s.End.NearBottomFrac,
			MaxPages:           s.End.MaxPages,
			FallbackToEnd:      true,
		}
		if s.End.FallbackToEnd != nil {
			en.FallbackToEnd = *s.End.FallbackToEnd
		}
		if en.FirstCue, err = compileList(s.Name, "end.first_cue", s.End.FirstCue); err != nil {
			return nil, err
		}
		r.End = en
	} else {
		r.End = EndSpec{FallbackToEnd: true}
	}

	r.Output = OutputSpec{Filename: "YY Document", PreviewIndex: -1}
	if s.Output != nil {
		r.Output.Filename = s.Output.Filename
		r.Output.Prompt = s.Output.Prompt
		r.Output.PreviewOffset = s.Output.PreviewOffset
		if s.Output.PreviewIndex != nil {
			r.Output.PreviewIndex = *s.Output.PreviewIndex
		}
	}

	r.CacheID = cacheID(r)
	if idx != nil {
		r.hints = idx.bindRule(r)
	}
	return r, nil
}

func cacheID(r *CompiledRule) string {
	h := sha1.New()
	h.Write([]byte(r.Name))
	for _, lst := range [][]Pattern{
		r.RequireAny, r.ForbidAny, r.HelpfulCues,
		r.Start.AnyCues, r.Start.NextPageHits, r.Start.FallbackCues,
		r.Start.LookbackPrevForbid, r.End.FirstCue,
	} {
		for _, p := range lst {
			h.Write([]byte{0})
			h.Write([]byte(p.Source))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Load reads and compiles the rule file. The enabled filter, when non-nil,
// drops rules before compilation; it is how externally persisted per-rule
// toggles are applied. Rules come back sorted by descending priority.
func Load(path string, idx *HintIndex, enabled func(name string) bool) ([]*CompiledRule, error) {
	const op = "Load"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapRulesError(op, err, "read rule file")
	}
	return Parse(data, idx, enabled)
}

// Parse compiles a rule set from raw JSON. See Load.
func Parse(data []byte, idx *HintIndex, enabled func(name string) bool) ([]*CompiledRule, error) {
	const op = "Parse"
	var specs []ruleSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, WrapRulesError(op, ErrInvalidRule, fmt.Sprintf("decode rule JSON: %v", err))
	}

	out := make([]*CompiledRule, 0, len(specs))
	for i := range specs {
		if enabled != nil && !enabled(specs[i].Name) {
			continue
		}
		r, err := specs[i].compile(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out, nil
}

// CollectRangeStartPatterns gathers every start.any_cues pattern across all
// range rules. The end detector uses it to stop a range before a page that
// looks like a different document's start.
func CollectRangeStartPatterns(all []*CompiledRule) []Pattern {
	var pats []Pattern
	for _, r := range all {
		if r.Scope == ScopeRange {
			pats = append(pats, r.Start.AnyCues...)
		}
	}
	return pats
}
