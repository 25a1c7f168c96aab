// Package splitter orchestrates one binder run end to end: scan profile,
// text session, OCR wiring, the rule pass, the optional deep rescan, and
// cancellation rollback.
package splitter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bindersplit/internal/cache"
	"bindersplit/internal/config"
	"bindersplit/internal/logger"
	"bindersplit/internal/match"
	"bindersplit/internal/ocr"
	"bindersplit/internal/output"
	"bindersplit/internal/rules"
	"bindersplit/internal/session"
	"bindersplit/pkg/models"
)

// Scan modes. Quick skips OCR entirely for a fast native-text-only pass;
// accuracy lets the scan profile decide and escalates as needed.
const (
	ModeQuick    = "quick"
	ModeAccuracy = "accuracy"
)

// Cap on opportunistic suspect-page OCR when OCR is not globally allowed.
const suspectPrefetchCap = 12

// Hooks are the caller's fire-and-forget notification callbacks. Both are
// optional.
type Hooks struct {
	Status   func(string)
	Progress func(percent int)
}

func (h Hooks) status(msg string) {
	if h.Status != nil {
		h.Status(msg)
	}
}

// Splitter processes binders against one loaded rule set.
type Splitter struct {
	cfg     *config.Config
	ruleSet []*rules.CompiledRule
	engine  ocr.Engine
	mode    string
}

// New loads rules and hints per the configuration and returns a ready
// splitter. enabled filters rules by name before compilation; nil keeps all.
func New(cfg *config.Config, enabled func(name string) bool) (*Splitter, error) {
	hints, err := rules.LoadHints(cfg.HintsPath)
	if err != nil {
		return nil, fmt.Errorf("splitter: load hints: %w", err)
	}
	ruleSet, err := rules.Load(cfg.RulesPath, hints, enabled)
	if err != nil {
		return nil, fmt.Errorf("splitter: load rules: %w", err)
	}
	return &Splitter{
		cfg:     cfg,
		ruleSet: ruleSet,
		engine:  ocr.NewTesseractEngine(cfg.TesseractLang),
		mode:    ModeAccuracy,
	}, nil
}

// Rules returns the compiled rule set.
func (s *Splitter) Rules() []*rules.CompiledRule { return s.ruleSet }

// SetMode selects quick or accuracy scanning. Unknown modes are ignored.
func (s *Splitter) SetMode(mode string) {
	if mode == ModeQuick || mode == ModeAccuracy {
		s.mode = mode
	}
}

// ProcessPDF splits one binder. The returned report lists saved files,
// reviewer prompt items, log lines and per-rule timings. On cancellation
// (via ctx) every file saved during the run is rolled back and the report
// reflects an empty run.
func (s *Splitter) ProcessPDF(ctx context.Context, path string, hooks Hooks) (*models.SplitReport, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return nil, fmt.Errorf("splitter: not a PDF file: %s", path)
	}
	runStart := time.Now()
	log := logger.WithBinder(path)

	profile := session.AssessScanProfile(path)
	if s.mode == ModeQuick {
		profile.AllowOCR = false
		profile.SkipQuick = false
		profile.SkipReason = ""
	}
	log.Debug().
		Bool("allow_ocr", profile.AllowOCR).
		Bool("skip_quick", profile.SkipQuick).
		Str("reason", profile.SkipReason).
		Int("sample", profile.SamplePages).
		Msg("scan profile assessed")

	writer := output.NewWriter(s.cfg.OutputDir, path)
	report := &models.SplitReport{Profile: profile}

	var outcome *match.Outcome
	var err error
	if profile.SkipQuick {
		hooks.status("Scanning (OCR)...")
		outcome, err = s.runPass(ctx, path, true, writer, hooks)
	} else {
		if profile.AllowOCR {
			hooks.status("Scanning (with OCR)...")
		} else {
			hooks.status("Scanning (fast)...")
		}
		outcome, err = s.runPass(ctx, path, profile.AllowOCR, writer, hooks)
		if err == nil && outcome.AutoSaved == 0 && len(outcome.PromptItems) == 0 &&
			profile.AllowOCR && ctx.Err() == nil {
			hooks.status("Deep scan (targeted OCR)...")
			outcome, err = s.runPass(ctx, path, true, writer, hooks)
		}
	}
	if err != nil {
		if outcome != nil {
			writer.Discard(outcome.SavedPaths)
		}
		return nil, err
	}

	if ctx.Err() != nil {
		hooks.status("Cancelled. No files saved.")
		writer.Discard(outcome.SavedPaths)
		report.Lines = []string{"Cancelled. No files saved."}
		report.Elapsed = time.Since(runStart)
		return report, nil
	}

	report.AutoSaved = outcome.AutoSaved
	report.SavedPaths = outcome.SavedPaths
	report.PromptItems = outcome.PromptItems
	report.Lines = outcome.Lines
	report.Stats = outcome.Stats
	if len(report.Lines) == 0 {
		report.Lines = []string{"No documents detected."}
	}
	report.Elapsed = time.Since(runStart)

	log.Info().
		Int("auto_saved", report.AutoSaved).
		Int("prompt_items", len(report.PromptItems)).
		Dur("elapsed", report.Elapsed).
		Msg("binder processed")
	hooks.status(fmt.Sprintf("Completed in %.2fs. Auto-saved %d file(s).", report.Elapsed.Seconds(), report.AutoSaved))
	return report, nil
}

// runPass runs one full rule pass over a fresh text session.
func (s *Splitter) runPass(ctx context.Context, path string, allowOCR bool, writer *output.Writer, hooks Hooks) (*match.Outcome, error) {
	sess, err := session.Open(path, allowOCR)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	// Propagate ctx cancellation into the session's cooperative flag so
	// inner loops that only consult the session stop promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Cancel()
		case <-done:
		}
	}()

	disk := cache.NewBinderCache(s.cfg.CacheDir, sess.Fingerprint())

	var assist match.OCRAssist
	if allowOCR {
		templates := cache.NewTemplateStore(s.cfg.CacheDir)
		runner := ocr.NewRunner(sess, s.engine, disk, templates)
		sess.SetOCRHooks(runner.Hooks())

		runner.PrefetchSuspects(ctx, 0, true)
		assist = runner
	} else if s.mode != ModeQuick {
		// OCR is off for this pass but not forbidden: OCR a handful of the
		// thinnest pages up front so obviously scanned documents still get a
		// chance to match. Quick mode skips even this.
		runner := ocr.NewRunner(sess, s.engine, disk, nil)
		runner.PrefetchSuspects(ctx, suspectPrefetchCap, false)
	} else {
		// Quick mode never recognizes; restore cached text only.
		for _, page := range sess.SuspectPages() {
			if entry := disk.Load(page, models.ScopeFull); entry != nil {
				sess.MergeRaw(page, entry.Raw)
			}
		}
	}

	m := match.New(sess, assist, s.ruleSet)
	return m.ApplyRules(ctx, writer, hooks.Progress)
}
