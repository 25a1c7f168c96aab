package models

import "time"

// ScanProfile summarizes the sampled native-text distribution of a binder.
// It drives two decisions: whether OCR is worth enabling at all, and whether
// the cheap native-text-only first pass should be skipped entirely.
type ScanProfile struct {
	SamplePages int     `json:"sample_pages"`
	LowPages    int     `json:"low_pages"`
	MedPages    int     `json:"med_pages"`
	HighPages   int     `json:"high_pages"`
	LowRatio    float64 `json:"low_ratio"`
	MedRatio    float64 `json:"med_ratio"`
	HighRatio   float64 `json:"high_ratio"`

	// AllowOCR is true when the sample is mostly sparse or medium text.
	AllowOCR bool `json:"allow_ocr"`

	// SkipQuick is true when the binder looks predominantly scanned and
	// a native-text-only pass would be wasted work.
	SkipQuick bool `json:"skip_quick"`

	// SkipReason names the threshold that triggered SkipQuick.
	SkipReason string `json:"skip_reason,omitempty"`
}

// PromptItem is a match deferred to an external reviewer instead of being
// auto-saved. Kind is "single" or "range".
type PromptItem struct {
	Kind        string `json:"kind"`
	Page        int    `json:"page,omitempty"`
	Start       int    `json:"start,omitempty"`
	End         int    `json:"end,omitempty"`
	PreviewPage int    `json:"preview_page,omitempty"`
	Prefix      string `json:"prefix"`
	Ext         string `json:"ext"`
}

// RuleTiming records per-rule match counts and elapsed time for a run.
type RuleTiming struct {
	Rule    string        `json:"rule"`
	Matches int           `json:"matches"`
	Elapsed time.Duration `json:"elapsed"`
}

// MatchStats groups rule timings by rule scope.
type MatchStats struct {
	Range  []RuleTiming `json:"range"`
	Single []RuleTiming `json:"single"`
}

// SplitReport is the result of processing one binder.
type SplitReport struct {
	AutoSaved   int           `json:"auto_saved"`
	SavedPaths  []string      `json:"saved_paths"`
	PromptItems []PromptItem  `json:"prompt_items"`
	Lines       []string      `json:"lines"`
	Stats       MatchStats    `json:"stats"`
	Profile     ScanProfile   `json:"profile"`
	Elapsed     time.Duration `json:"elapsed"`
}
