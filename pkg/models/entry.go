package models

// OCRScope identifies which part of a page an OCR result covers.
type OCRScope string

const (
	// ScopeFull covers the whole page.
	ScopeFull OCRScope = "full"

	// ScopeBottomStrip covers a strip at the bottom of the page.
	ScopeBottomStrip OCRScope = "bottom_strip"

	// ScopeMiddleBand covers a centered horizontal band.
	ScopeMiddleBand OCRScope = "middle_band"
)

// OCREntry is the persisted result of one OCR run over a (page, scope) pair.
//
// Entries are only ever upgraded: a re-run at higher DPI overwrites the entry,
// a lower-quality result never replaces a higher-quality one.
type OCREntry struct {
	// Raw is the line-reconstructed OCR output before normalization.
	Raw string `json:"raw"`

	// Clean is the canonical uppercase/normalized form of Raw, possibly
	// merged with native-extraction text for the same page.
	Clean string `json:"clean"`

	// DPI is the resolution the page region was rasterized at.
	DPI int `json:"dpi"`

	// AvgConf is the mean per-word Tesseract confidence (0-100),
	// nil when no word produced a confidence value.
	AvgConf *float64 `json:"avg_conf"`

	// Length is the clean-text length used for quality decisions.
	Length int `json:"length"`

	// Scope records which page region produced this entry.
	Scope OCRScope `json:"scope"`

	// ImageSig is the 48x48 grayscale downsample hash of the full-page
	// render, empty for strip/band scopes.
	ImageSig string `json:"image_sig,omitempty"`
}

// Conf returns the average confidence or -1 when none was recorded.
func (e *OCREntry) Conf() float64 {
	if e.AvgConf == nil {
		return -1
	}
	return *e.AvgConf
}

// TemplateEntry is a cross-binder cached page recognized for one rule.
// It carries a full OCREntry plus the fingerprint data used for matching
// and the usage counters used for eviction ranking.
type TemplateEntry struct {
	Version  int    `json:"version"`
	Rule     string `json:"rule"`
	Created  string `json:"created"`
	LastUsed string `json:"last_used"`

	// Prefix is the first 200 characters of the clean text.
	Prefix string `json:"prefix"`

	// Tokens are the top salient word tokens (length > 2, deduplicated,
	// in document order).
	Tokens      []string `json:"tokens"`
	TokensCount int      `json:"tokens_count"`

	// Hits counts template-match reuses.
	Hits int `json:"hits"`

	Raw      string   `json:"raw"`
	Clean    string   `json:"clean"`
	DPI      int      `json:"dpi"`
	AvgConf  *float64 `json:"avg_conf"`
	Length   int      `json:"length"`
	ImageSig string   `json:"image_sig,omitempty"`
}

// Entry converts the template back into the OCREntry it was saved from.
func (t *TemplateEntry) Entry() OCREntry {
	return OCREntry{
		Raw:      t.Raw,
		Clean:    t.Clean,
		DPI:      t.DPI,
		AvgConf:  t.AvgConf,
		Length:   t.Length,
		Scope:    ScopeFull,
		ImageSig: t.ImageSig,
	}
}
