package rules

import (
	"errors"
	"testing"
)

func TestParseSortsByDescendingPriority(t *testing.T) {
	data := []byte(`[
		{"name": "Low", "scope": "single_page", "priority": 1},
		{"name": "High", "scope": "range", "priority": 10},
		{"name": "Mid", "scope": "single_page", "priority": 5}
	]`)
	rs, err := Parse(data, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := []string{rs[0].Name, rs[1].Name, rs[2].Name}
	want := []string{"High", "Mid", "Low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("priority order = %v, want %v", got, want)
		}
	}
}

func TestParseEnabledFilter(t *testing.T) {
	data := []byte(`[
		{"name": "Keep", "scope": "range"},
		{"name": "Drop", "scope": "range"}
	]`)
	rs, err := Parse(data, nil, func(name string) bool { return name == "Keep" })
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rs) != 1 || rs[0].Name != "Keep" {
		t.Errorf("filtered rules = %+v, want only Keep", rs)
	}
}

func TestParseRejectsInvalidPattern(t *testing.T) {
	data := []byte(`[{"name": "Bad", "scope": "range", "require_any": ["("]}]`)
	_, err := Parse(data, nil, nil)
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("err = %v, want ErrInvalidPattern", err)
	}
}

func TestParseRejectsUnknownScope(t *testing.T) {
	data := []byte(`[{"name": "Bad", "scope": "chapter"}]`)
	_, err := Parse(data, nil, nil)
	if !errors.Is(err, ErrInvalidRule) {
		t.Errorf("err = %v, want ErrInvalidRule", err)
	}
}

func TestCompileDefaults(t *testing.T) {
	data := []byte(`[{
		"name": "Defaults",
		"scope": "range",
		"start": {"next_page_hits": ["HIT"]}
	}]`)
	rs, err := Parse(data, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r := rs[0]
	if r.Start.MinHitsNext != 1 {
		t.Errorf("MinHitsNext = %d, want default 1", r.Start.MinHitsNext)
	}
	if !r.End.FallbackToEnd {
		t.Error("FallbackToEnd should default to true")
	}
	if r.Output.Filename != "YY Document" || r.Output.PreviewIndex != -1 {
		t.Errorf("output defaults = %+v", r.Output)
	}
	if r.CacheID == "" {
		t.Error("CacheID must be populated")
	}
}

func TestCacheIDStableAcrossReload(t *testing.T) {
	data := []byte(`[{"name": "Stable", "scope": "range", "require_any": ["A", "B"]}]`)
	first, err := Parse(data, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := Parse(data, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if first[0].CacheID != second[0].CacheID {
		t.Error("CacheID changed across reloads of identical JSON")
	}

	changed, err := Parse([]byte(`[{"name": "Stable", "scope": "range", "require_any": ["A", "C"]}]`), nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if changed[0].CacheID == first[0].CacheID {
		t.Error("CacheID must change when a pattern changes")
	}
}

func TestHintBinding(t *testing.T) {
	idx := NewHintIndex([]hintRecord{
		{Rule: "Hinted", Target: "require_any", Pattern: "POLICY", Bands: [][]float64{{0, 0.22}}},
		{Rule: "Hinted", Target: "require_any", Pattern: "UNKNOWN PATTERN", Bands: [][]float64{{0, 0.22}}},
		{Rule: "Other Rule", Target: "require_any", Pattern: "POLICY", Bands: [][]float64{{0, 0.22}}},
	})
	data := []byte(`[{"name": "Hinted", "scope": "range", "require_any": ["POLICY"]}]`)
	rs, err := Parse(data, idx, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r := rs[0]

	bands := r.HintBands("require_any", r.RequireAny[0])
	if len(bands) != 1 {
		t.Fatalf("HintBands = %v, want one band", bands)
	}
	if bands[0].Start != 0 || bands[0].End != 0.22/regionScaleMax {
		t.Errorf("band = %+v, want normalized 0..0.2", bands[0])
	}
	if got := r.HintBands("forbid_any", r.RequireAny[0]); got != nil {
		t.Errorf("unhinted target returned bands: %v", got)
	}
}

func TestNormalizeBand(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want Band
		ok   bool
	}{
		{name: "normal", in: []float64{0.11, 0.55}, want: Band{Start: 0.1, End: 0.5}, ok: true},
		{name: "swapped", in: []float64{0.55, 0.11}, want: Band{Start: 0.1, End: 0.5}, ok: true},
		{name: "clamped", in: []float64{-1, 99}, want: Band{Start: 0, End: 1}, ok: true},
		{name: "wrong arity", in: []float64{0.5}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeBand(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			const eps = 1e-9
			if got.Start < tt.want.Start-eps || got.Start > tt.want.Start+eps ||
				got.End < tt.want.End-eps || got.End > tt.want.End+eps {
				t.Errorf("band = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCollectRangeStartPatterns(t *testing.T) {
	data := []byte(`[
		{"name": "R1", "scope": "range", "start": {"any_cues": ["A", "B"]}},
		{"name": "S1", "scope": "single_page", "start": {"any_cues": ["C"]}},
		{"name": "R2", "scope": "range", "start": {"any_cues": ["D"]}}
	]`)
	rs, err := Parse(data, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pats := CollectRangeStartPatterns(rs)
	if len(pats) != 3 {
		t.Fatalf("got %d patterns, want 3 (single_page excluded)", len(pats))
	}
	for _, p := range pats {
		if p.Source == "C" {
			t.Error("single-page cue leaked into range start patterns")
		}
	}
}
