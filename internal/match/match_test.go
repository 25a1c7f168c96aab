package match

import (
	"context"
	"strings"
	"testing"

	"bindersplit/internal/rules"
)

// fakeSource serves synthetic page text so the engine runs without a binder.
type fakeSource struct {
	pages    []string
	versions []int
	allowOCR bool
	tables   map[int]bool
}

func newFakeSource(pages ...string) *fakeSource {
	return &fakeSource{pages: pages, versions: make([]int, len(pages)), allowOCR: true}
}

func (f *fakeSource) PageCount() int  { return len(f.pages) }
func (f *fakeSource) AllowOCR() bool  { return f.allowOCR }
func (f *fakeSource) Cancelled() bool { return false }

func (f *fakeSource) CleanText(_ context.Context, page int) string {
	if page < 0 || page >= len(f.pages) {
		return ""
	}
	return f.pages[page]
}

func (f *fakeSource) BandText(context.Context, int, float64, float64) string { return "" }

func (f *fakeSource) TextVersion(page int) int {
	if page < 0 || page >= len(f.versions) {
		return 0
	}
	return f.versions[page]
}

func (f *fakeSource) LooksLikeTable(page int) bool { return f.tables[page] }

func (f *fakeSource) setText(page int, text string) {
	f.pages[page] = text
	f.versions[page]++
}

// fakeAssist reveals pre-staged text when a page is force-OCR'd.
type fakeAssist struct {
	src    *fakeSource
	reveal map[int]string
	forced []int
	strips []int
}

func (a *fakeAssist) MaybeForceFullPage(ctx context.Context, page int, reason, pageText, rule string) bool {
	if len(pageText) >= 80 {
		return false
	}
	a.ForceFullPage(ctx, page, reason, false, rule, pageText)
	return true
}

func (a *fakeAssist) ForceFullPage(_ context.Context, page int, _ string, _ bool, _, _ string) {
	a.forced = append(a.forced, page)
	if txt, ok := a.reveal[page]; ok {
		a.src.setText(page, txt)
	}
}

func (a *fakeAssist) BottomStrip(_ context.Context, page int) {
	a.strips = append(a.strips, page)
	if txt, ok := a.reveal[page]; ok {
		a.src.setText(page, txt)
	}
}

func (a *fakeAssist) SaveTemplate(string, int) {}

// fakeSaver records saves instead of writing PDFs.
type savedRange struct {
	start, end int
	name       string
}

type savedSplice struct {
	start, end, location int
	name                 string
}

type fakeSaver struct {
	ranges  []savedRange
	singles []savedRange
	splices []savedSplice
}

func (s *fakeSaver) SaveRange(start, end int, name string) (string, error) {
	s.ranges = append(s.ranges, savedRange{start: start, end: end, name: name})
	return name + ".pdf", nil
}

func (s *fakeSaver) SaveSingle(page int, name string) (string, error) {
	s.singles = append(s.singles, savedRange{start: page, end: page, name: name})
	return name + ".pdf", nil
}

func (s *fakeSaver) SaveSpliced(start, end, location int, name string) (string, error) {
	s.splices = append(s.splices, savedSplice{start: start, end: end, location: location, name: name})
	return name + ".pdf", nil
}

func mustRules(t *testing.T, jsonStr string) []*rules.CompiledRule {
	t.Helper()
	rs, err := rules.Parse([]byte(jsonStr), nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return rs
}

func TestMatchSinglePageGates(t *testing.T) {
	ruleJSON := `[{
		"name": "Certificate",
		"scope": "single_page",
		"require_any": ["POLICY NUMBER"],
		"forbid_any": ["VOID"],
		"helpful_cues": ["INSURED", "EFFECTIVE DATE"],
		"min_helpful": 2,
		"start": {"any_cues": ["CERTIFICATE OF INSURANCE"]}
	}]`

	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "all gates pass",
			text: "CERTIFICATE OF INSURANCE POLICY NUMBER 123 INSURED ACME EFFECTIVE DATE 1/1",
			want: true,
		},
		{
			name: "start cue missing",
			text: "POLICY NUMBER 123 INSURED ACME EFFECTIVE DATE 1/1",
			want: false,
		},
		{
			name: "forbid overrides everything",
			text: "CERTIFICATE OF INSURANCE POLICY NUMBER 123 INSURED ACME EFFECTIVE DATE 1/1 VOID",
			want: false,
		},
		{
			name: "require missing",
			text: "CERTIFICATE OF INSURANCE INSURED ACME EFFECTIVE DATE 1/1",
			want: false,
		},
		{
			name: "helpful below minimum",
			text: "CERTIFICATE OF INSURANCE POLICY NUMBER 123 INSURED ACME",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(tt.text)
			m := New(src, nil, mustRules(t, ruleJSON))
			if got := m.MatchSinglePage(context.Background(), m.rules[0], 0); got != tt.want {
				t.Errorf("MatchSinglePage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchSinglePageOCRRetry(t *testing.T) {
	ruleJSON := `[{
		"name": "Scanned Certificate",
		"scope": "single_page",
		"ocr_retry": true,
		"start": {"any_cues": ["CERTIFICATE OF INSURANCE"]}
	}]`

	src := newFakeSource("")
	assist := &fakeAssist{src: src, reveal: map[int]string{0: "CERTIFICATE OF INSURANCE"}}
	m := New(src, assist, mustRules(t, ruleJSON))

	if !m.MatchSinglePage(context.Background(), m.rules[0], 0) {
		t.Fatal("expected match after OCR retry revealed the cue")
	}
	if len(assist.forced) != 1 || assist.forced[0] != 0 {
		t.Errorf("forced pages = %v, want [0]", assist.forced)
	}
}

func TestApplyRulesRangeWithEndCue(t *testing.T) {
	ruleJSON := `[{
		"name": "Quote",
		"scope": "range",
		"start": {"any_cues": ["QUOTE SCHEDULE"]},
		"end": {"first_cue": ["CONCLUDES THE QUOTE"]},
		"output": {"filename": "YY Quote"}
	}]`

	src := newFakeSource(
		"QUOTE SCHEDULE POLICY 123",
		"COVERAGE DETAILS",
		"THIS CONCLUDES THE QUOTE",
		"UNRELATED PAGE",
	)
	saver := &fakeSaver{}
	m := New(src, nil, mustRules(t, ruleJSON))

	out, err := m.ApplyRules(context.Background(), saver, nil)
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if out.AutoSaved != 1 {
		t.Fatalf("AutoSaved = %d, want 1", out.AutoSaved)
	}
	want := savedRange{start: 0, end: 2, name: "YY Quote"}
	if len(saver.ranges) != 1 || saver.ranges[0] != want {
		t.Errorf("ranges = %+v, want [%+v]", saver.ranges, want)
	}
}

func TestApplyRulesMissedEndCueTagsFilename(t *testing.T) {
	ruleJSON := `[{
		"name": "Quote",
		"scope": "range",
		"start": {"any_cues": ["QUOTE SCHEDULE"]},
		"end": {"first_cue": ["NEVER PRESENT"], "max_pages": 3},
		"output": {"filename": "YY Quote"}
	}]`

	src := newFakeSource(
		"QUOTE SCHEDULE POLICY 123",
		"COVERAGE DETAILS",
		"MORE DETAILS",
		"EVEN MORE",
		"TRAILING",
	)
	saver := &fakeSaver{}
	m := New(src, nil, mustRules(t, ruleJSON))

	if _, err := m.ApplyRules(context.Background(), saver, nil); err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if len(saver.ranges) != 1 {
		t.Fatalf("ranges = %+v, want one entry", saver.ranges)
	}
	got := saver.ranges[0]
	if got.start != 0 || got.end != 2 {
		t.Errorf("range = %d-%d, want 0-2 (max_pages bound)", got.start, got.end)
	}
	if got.name != "YY Quote - missed end cue" {
		t.Errorf("name = %q, want the missed-end-cue tag", got.name)
	}
}

func TestApplyRulesFallbackToPreviousStart(t *testing.T) {
	ruleJSON := `[{
		"name": "Schedule",
		"scope": "range",
		"require_any": ["POLICY NUMBER"],
		"start": {
			"any_cues": ["SCHEDULE OF COVERAGE"],
			"fallback_cues": ["CONTINUED"],
			"fallback_to_previous": true
		},
		"end": {"first_cue": ["END OF SCHEDULE"]},
		"output": {"filename": "YY Schedule"}
	}]`

	src := newFakeSource(
		"POLICY NUMBER 987",
		"SCHEDULE OF COVERAGE CONTINUED",
		"END OF SCHEDULE",
	)
	saver := &fakeSaver{}
	m := New(src, nil, mustRules(t, ruleJSON))

	if _, err := m.ApplyRules(context.Background(), saver, nil); err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if len(saver.ranges) != 1 {
		t.Fatalf("ranges = %+v, want one entry", saver.ranges)
	}
	got := saver.ranges[0]
	if got.start != 0 || got.end != 2 {
		t.Errorf("range = %d-%d, want 0-2 (start backed up to the require page)", got.start, got.end)
	}
}

func TestApplyRulesStopBeforeNewStart(t *testing.T) {
	ruleJSON := `[
		{
			"name": "Alpha",
			"scope": "range",
			"priority": 10,
			"start": {"any_cues": ["ALPHA DOC"]},
			"end": {"stop_before_new_start": true},
			"output": {"filename": "YY Alpha"}
		},
		{
			"name": "Beta",
			"scope": "range",
			"priority": 5,
			"start": {"any_cues": ["BETA DOC"]},
			"end": {"first_cue": ["BETA END"]},
			"output": {"filename": "YY Beta"}
		}
	]`

	src := newFakeSource(
		"ALPHA DOC HEADER",
		"ALPHA BODY",
		"BETA DOC HEADER",
		"BETA END",
	)
	saver := &fakeSaver{}
	m := New(src, nil, mustRules(t, ruleJSON))

	if _, err := m.ApplyRules(context.Background(), saver, nil); err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if len(saver.ranges) != 2 {
		t.Fatalf("ranges = %+v, want two entries", saver.ranges)
	}
	if got := saver.ranges[0]; got.start != 0 || got.end != 1 {
		t.Errorf("alpha range = %d-%d, want 0-1 (stopped before beta start)", got.start, got.end)
	}
	if got := saver.ranges[1]; got.start != 2 || got.end != 3 {
		t.Errorf("beta range = %d-%d, want 2-3", got.start, got.end)
	}
}

func TestFindRangeEndNearBottomFrac(t *testing.T) {
	ruleJSON := `[{
		"name": "Package",
		"scope": "range",
		"start": {"any_cues": ["PKG START"]},
		"end": {"first_cue": ["FINAL STAMP"], "near_bottom_frac": 0.3}
	}]`

	filler := strings.Repeat("LOREM IPSUM COVERAGE TEXT ", 40)
	src := newFakeSource(
		"PKG START",
		"FINAL STAMP "+filler, // cue at the top: rejected
		filler+" FINAL STAMP", // cue at the bottom: accepted
	)
	m := New(src, nil, mustRules(t, ruleJSON))

	end, hitOK, _ := m.FindRangeEnd(context.Background(), m.rules[0], 0)
	if !hitOK || end != 2 {
		t.Errorf("FindRangeEnd = (%d, %v), want (2, true)", end, hitOK)
	}
}

func TestApplyRulesPromptInsteadOfSave(t *testing.T) {
	ruleJSON := `[{
		"name": "Reviewed Doc",
		"scope": "range",
		"start": {"any_cues": ["REVIEW ME"]},
		"end": {"first_cue": ["REVIEW END"]},
		"output": {"filename": "YY Review", "prompt": true, "preview_offset": 1}
	}]`

	src := newFakeSource("REVIEW ME", "MIDDLE", "REVIEW END")
	saver := &fakeSaver{}
	m := New(src, nil, mustRules(t, ruleJSON))

	out, err := m.ApplyRules(context.Background(), saver, nil)
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if out.AutoSaved != 0 || len(saver.ranges) != 0 {
		t.Errorf("prompt rule must not auto-save, got AutoSaved=%d ranges=%+v", out.AutoSaved, saver.ranges)
	}
	if len(out.PromptItems) != 1 {
		t.Fatalf("PromptItems = %+v, want one entry", out.PromptItems)
	}
	item := out.PromptItems[0]
	if item.Kind != "range" || item.Start != 0 || item.End != 2 || item.PreviewPage != 1 {
		t.Errorf("prompt item = %+v, want range 0-2 preview 1", item)
	}
}

func TestDetectJunkIntroPages(t *testing.T) {
	pages := make([]string, 25)
	pages[0] = "NAV SAV COMMERCIAL INSURANCE PROPOSAL FOR ACME"
	for i := 1; i < 20; i++ {
		pages[i] = "PROPOSAL FILLER"
	}
	pages[20] = "BROKER FEE AGREEMENT"
	pages[5] = "CERTIFICATE OF INSURANCE POLICY NUMBER 1"
	pages[22] = "CERTIFICATE OF INSURANCE POLICY NUMBER 2"

	ruleJSON := `[{
		"name": "Certificate",
		"scope": "single_page",
		"start": {"any_cues": ["CERTIFICATE OF INSURANCE"]},
		"output": {"filename": "YY Certificate"}
	}]`

	src := newFakeSource(pages...)
	saver := &fakeSaver{}
	m := New(src, nil, mustRules(t, ruleJSON))

	out, err := m.ApplyRules(context.Background(), saver, nil)
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if len(saver.singles) != 1 || saver.singles[0].start != 22 {
		t.Errorf("singles = %+v, want only page 22 (page 5 is junk-claimed)", saver.singles)
	}
	if len(out.Lines) < 2 {
		t.Errorf("Lines = %v, want junk notes plus the match line", out.Lines)
	}
}

func TestApplyRulesDealerSplice(t *testing.T) {
	ruleJSON := `[
		{
			"name": "Dealer Application",
			"scope": "range",
			"start": {"any_cues": ["DEALER APPLICATION"]},
			"end": {"first_cue": ["DEALER END"]},
			"output": {"filename": "YY Dealer App"}
		},
		{
			"name": "Location Page DA",
			"scope": "single_page",
			"start": {"any_cues": ["LOCATION PAGE"]},
			"output": {"filename": "YY Location"}
		}
	]`

	t.Run("paired", func(t *testing.T) {
		src := newFakeSource(
			"DEALER APPLICATION",
			"APPLICANT INFO",
			"VEHICLE INFO",
			"COVERAGE INFO",
			"SIGNATURES",
			"DEALER END",
			"UNRELATED",
			"LOCATION PAGE DA",
		)
		saver := &fakeSaver{}
		m := New(src, nil, mustRules(t, ruleJSON))

		out, err := m.ApplyRules(context.Background(), saver, nil)
		if err != nil {
			t.Fatalf("ApplyRules: %v", err)
		}
		if len(saver.splices) != 1 {
			t.Fatalf("splices = %+v, want one entry", saver.splices)
		}
		got := saver.splices[0]
		if got.start != 0 || got.end != 5 || got.location != 7 {
			t.Errorf("splice = %+v, want 0-5 with location 7", got)
		}
		if len(saver.ranges) != 0 || len(saver.singles) != 0 {
			t.Errorf("paired dealer must save only the spliced file, got ranges=%+v singles=%+v", saver.ranges, saver.singles)
		}
		if out.AutoSaved != 1 {
			t.Errorf("AutoSaved = %d, want 1", out.AutoSaved)
		}
	})

	t.Run("unpaired location saves alone", func(t *testing.T) {
		src := newFakeSource("UNRELATED", "LOCATION PAGE DA")
		saver := &fakeSaver{}
		m := New(src, nil, mustRules(t, ruleJSON))

		if _, err := m.ApplyRules(context.Background(), saver, nil); err != nil {
			t.Fatalf("ApplyRules: %v", err)
		}
		if len(saver.singles) != 1 || saver.singles[0].start != 1 {
			t.Errorf("singles = %+v, want the location page saved on its own", saver.singles)
		}
		if len(saver.splices) != 0 {
			t.Errorf("splices = %+v, want none", saver.splices)
		}
	})
}

func TestApplyRulesClaimedPagesNotReused(t *testing.T) {
	ruleJSON := `[
		{
			"name": "Quote",
			"scope": "range",
			"priority": 10,
			"start": {"any_cues": ["QUOTE SCHEDULE"]},
			"end": {"first_cue": ["QUOTE END"]},
			"output": {"filename": "YY Quote"}
		},
		{
			"name": "Certificate",
			"scope": "single_page",
			"start": {"any_cues": ["CERTIFICATE"]},
			"output": {"filename": "YY Certificate"}
		}
	]`

	// The certificate cue sits inside the quote range and must stay claimed.
	src := newFakeSource(
		"QUOTE SCHEDULE",
		"CERTIFICATE ATTACHED",
		"QUOTE END",
		"CERTIFICATE STANDALONE",
	)
	saver := &fakeSaver{}
	m := New(src, nil, mustRules(t, ruleJSON))

	if _, err := m.ApplyRules(context.Background(), saver, nil); err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if len(saver.ranges) != 1 || saver.ranges[0].start != 0 || saver.ranges[0].end != 2 {
		t.Fatalf("ranges = %+v, want the quote at 0-2", saver.ranges)
	}
	if len(saver.singles) != 1 || saver.singles[0].start != 3 {
		t.Errorf("singles = %+v, want only the standalone certificate at page 3", saver.singles)
	}
}

func TestSignatureEndUsesLastMarker(t *testing.T) {
	ruleJSON := `[{
		"name": "Completion Certificate",
		"scope": "range",
		"start": {"any_cues": ["DOCUMENT COMPLETION CERTIFICATE"]},
		"end": {"mode": "signature_rules"}
	}]`

	src := newFakeSource(
		"DOCUMENT COMPLETION CERTIFICATE",
		"DOCUMENT HISTORY PAGE ONE",
		"MIDDLE PAGE",
		"DOCUMENT HISTORY PAGE TWO",
		"TRAILING",
	)
	m := New(src, nil, mustRules(t, ruleJSON))

	end, hitOK, _ := m.FindRangeEnd(context.Background(), m.rules[0], 0)
	if !hitOK || end != 3 {
		t.Errorf("FindRangeEnd = (%d, %v), want (3, true): last history page wins", end, hitOK)
	}
}

func TestNextTableEnd(t *testing.T) {
	ruleJSON := `[{
		"name": "Table Doc",
		"scope": "range",
		"start": {"any_cues": ["RATING WORKSHEET"]},
		"end": {"mode": "next_table_page"}
	}]`

	src := newFakeSource("RATING WORKSHEET", "PROSE", "PROSE", "PROSE")
	src.tables = map[int]bool{2: true}
	m := New(src, nil, mustRules(t, ruleJSON))

	end, hitOK, _ := m.FindRangeEnd(context.Background(), m.rules[0], 0)
	if !hitOK || end != 2 {
		t.Errorf("FindRangeEnd = (%d, %v), want (2, true)", end, hitOK)
	}

	// No table within two pages: default to a two-page range.
	src.tables = nil
	m = New(src, nil, mustRules(t, ruleJSON))
	end, hitOK, _ = m.FindRangeEnd(context.Background(), m.rules[0], 0)
	if !hitOK || end != 1 {
		t.Errorf("FindRangeEnd = (%d, %v), want (1, true)", end, hitOK)
	}
}

func TestEndAssistOCRForScannedPage(t *testing.T) {
	ruleJSON := `[{
		"name": "Dealer Application",
		"scope": "range",
		"start": {"any_cues": ["DEALER APPLICATION"]},
		"end": {"first_cue": ["DEALER END"]}
	}]`

	// Page 1 looks scanned (almost no text) until forced OCR reveals the cue.
	src := newFakeSource("DEALER APPLICATION", "X")
	assist := &fakeAssist{src: src, reveal: map[int]string{1: "SIGNATURE BLOCK DEALER END"}}
	m := New(src, assist, mustRules(t, ruleJSON))

	end, hitOK, _ := m.FindRangeEnd(context.Background(), m.rules[0], 0)
	if !hitOK || end != 1 {
		t.Errorf("FindRangeEnd = (%d, %v), want (1, true) after OCR assist", end, hitOK)
	}
	if len(assist.forced) == 0 {
		t.Error("expected a forced full-page OCR for the scanned candidate end page")
	}
}
