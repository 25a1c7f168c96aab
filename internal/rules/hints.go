package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Region hint measurements are authored on a 0.0-1.1 scale where 1.1 equals
// 11 inches of page height. Bands are normalized to 0.0-1.0 fractions at
// load time.
const regionScaleMax = 1.1

// Band is a vertical slice of a page, as fractions of page height from the
// top. Start <= End always holds after normalization.
type Band struct {
	Start float64
	End   float64
}

// hintRecord is the authored form of one region hint.
type hintRecord struct {
	Rule    string      `json:"rule"`
	Target  string      `json:"target"`
	Pattern string      `json:"pattern"`
	Bands   [][]float64 `json:"bands"`
}

// HintIndex maps rule name -> target -> pattern source -> bands. It
// restricts where on a page specific cues are searched before the matcher
// falls back to whole-page text.
type HintIndex struct {
	byRule map[string]map[string]map[string][]Band
}

func normalizeHintValue(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > regionScaleMax {
		v = regionScaleMax
	}
	return v / regionScaleMax
}

func normalizeBand(raw []float64) (Band, bool) {
	if len(raw) != 2 {
		return Band{}, false
	}
	start := normalizeHintValue(raw[0])
	end := normalizeHintValue(raw[1])
	if end < start {
		start, end = end, start
	}
	if end-start < 1e-6 {
		end = start + 0.01
		if end > 1 {
			end = 1
		}
	}
	return Band{Start: start, End: end}, true
}

// LoadHints reads a region hint file. A missing file is not an error: the
// matcher simply runs without band restrictions.
func LoadHints(path string) (*HintIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewHintIndex(nil), nil
		}
		return nil, WrapRulesError("LoadHints", err, "read hint file")
	}
	var records []hintRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, WrapRulesError("LoadHints", ErrInvalidHint, fmt.Sprintf("decode hint JSON: %v", err))
	}
	return NewHintIndex(records), nil
}

// NewHintIndex builds an index from raw records, silently dropping records
// with missing fields or degenerate bands (hints are advisory).
func NewHintIndex(records []hintRecord) *HintIndex {
	idx := &HintIndex{byRule: make(map[string]map[string]map[string][]Band)}
	for _, rec := range records {
		if rec.Rule == "" || rec.Target == "" || rec.Pattern == "" || len(rec.Bands) == 0 {
			continue
		}
		var bands []Band
		for _, raw := range rec.Bands {
			if b, ok := normalizeBand(raw); ok {
				bands = append(bands, b)
			}
		}
		if len(bands) == 0 {
			continue
		}
		targets := idx.byRule[rec.Rule]
		if targets == nil {
			targets = make(map[string]map[string][]Band)
			idx.byRule[rec.Rule] = targets
		}
		patterns := targets[rec.Target]
		if patterns == nil {
			patterns = make(map[string][]Band)
			targets[rec.Target] = patterns
		}
		patterns[rec.Pattern] = append(patterns[rec.Pattern], bands...)
	}
	return idx
}

// bindRule resolves the index against a compiled rule, keeping only hints
// whose pattern source actually appears in the hinted target's pattern list.
func (idx *HintIndex) bindRule(r *CompiledRule) map[string]map[string][]Band {
	targets := idx.byRule[r.Name]
	if targets == nil {
		return nil
	}
	bound := make(map[string]map[string][]Band)
	for target, patterns := range targets {
		compiled := resolvePatternList(r, target)
		if len(compiled) == 0 {
			continue
		}
		for src, bands := range patterns {
			for _, p := range compiled {
				if p.Source != src {
					continue
				}
				tm := bound[target]
				if tm == nil {
					tm = make(map[string][]Band)
					bound[target] = tm
				}
				tm[src] = bands
			}
		}
	}
	if len(bound) == 0 {
		return nil
	}
	return bound
}

// resolvePatternList maps a hint target name to the rule's pattern list.
func resolvePatternList(r *CompiledRule, target string) []Pattern {
	if key, ok := strings.CutPrefix(target, "start."); ok {
		switch key {
		case "any_cues":
			return r.Start.AnyCues
		case "next_page_hits":
			return r.Start.NextPageHits
		case "fallback_cues":
			return r.Start.FallbackCues
		case "lookback_prev_forbid":
			return r.Start.LookbackPrevForbid
		}
		return nil
	}
	if key, ok := strings.CutPrefix(target, "end."); ok {
		if key == "first_cue" {
			return r.End.FirstCue
		}
		return nil
	}
	switch target {
	case "require_any":
		return r.RequireAny
	case "forbid_any":
		return r.ForbidAny
	case "helpful_cues":
		return r.HelpfulCues
	}
	return nil
}
