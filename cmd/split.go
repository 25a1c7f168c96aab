package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bindersplit/internal/config"
	"bindersplit/internal/logger"
	"bindersplit/internal/splitter"
)

var splitCmd = &cobra.Command{
	Use:   "split [binder-pdf]",
	Short: "Split a binder PDF into its individual documents",
	Long: `Process a binder PDF against the configured rule set and save every
detected document as its own file under the output folder.

Pages with no usable native text are rendered and OCR'd with Tesseract, so
the tesseract shared library and language data must be installed. OCR text
is cached on disk per binder fingerprint; reprocessing an unmodified binder
never OCRs the same page twice.

Matches flagged for review are reported instead of saved so a human can
confirm the page range first.`,
	Example: `  # Split a binder into <output>/<binder>_split/
  bindersplit split binder.pdf

  # Fast pass only, no OCR
  bindersplit split binder.pdf --mode quick

  # Custom output folder and a longer timeout
  bindersplit split binder.pdf -o /tmp/out --timeout 1800`,
	Args: cobra.ExactArgs(1),
	RunE: runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)

	splitCmd.Flags().StringP("output", "o", "", "Output folder (default: configured output dir)")
	splitCmd.Flags().String("mode", splitter.ModeAccuracy, "Scan mode: quick (no OCR) or accuracy")
	splitCmd.Flags().String("rules", "", "Rule set path (default: configured rules path)")
	splitCmd.Flags().Int("timeout", 900, "Processing timeout in seconds")
	splitCmd.Flags().Bool("json", false, "Output the report as JSON")
}

func runSplit(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("split")

	outputDir, _ := cmd.Flags().GetString("output")
	mode, _ := cmd.Flags().GetString("mode")
	rulesPath, _ := cmd.Flags().GetString("rules")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	binderPath := args[0]

	if mode != splitter.ModeQuick && mode != splitter.ModeAccuracy {
		return fmt.Errorf("invalid --mode %q: must be %q or %q", mode, splitter.ModeQuick, splitter.ModeAccuracy)
	}
	if err := validateBinderFile(binderPath, log); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if rulesPath != "" {
		cfg.RulesPath = rulesPath
	}

	log.Info().
		Str("binder", binderPath).
		Str("mode", mode).
		Str("output", cfg.OutputDir).
		Int("timeout", timeoutSecs).
		Msg("Starting binder split")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	sp, err := splitter.New(cfg, nil)
	if err != nil {
		return err
	}
	sp.SetMode(mode)

	hooks := splitter.Hooks{
		Status: func(msg string) {
			log.Info().Msg(msg)
		},
	}

	report, err := sp.ProcessPDF(ctx, binderPath, hooks)
	if err != nil {
		log.Error().Err(err).Str("binder", binderPath).Msg("Binder split failed")
		return err
	}

	log.Info().
		Int("auto_saved", report.AutoSaved).
		Int("prompt_items", len(report.PromptItems)).
		Dur("elapsed", report.Elapsed).
		Msg("Binder split completed")

	if jsonOutput {
		return printJSON(report)
	}
	for _, line := range report.Lines {
		fmt.Println(line)
	}
	for _, item := range report.PromptItems {
		if item.Kind == "range" {
			fmt.Printf("Needs review: pages %d-%d (%s)\n", item.Start+1, item.End+1, item.Prefix)
		} else {
			fmt.Printf("Needs review: page %d (%s)\n", item.Page+1, item.Prefix)
		}
	}
	return nil
}

// validateBinderFile checks that the path is a readable, non-empty PDF.
func validateBinderFile(path string, log zerolog.Logger) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", path).
				Msg("Binder file not found")
			return fmt.Errorf("binder file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().
				Str("file", path).
				Msg("Permission denied accessing binder file")
			return fmt.Errorf("permission denied accessing binder file: %s", path)
		}
		return fmt.Errorf("error accessing binder file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().
			Str("file", path).
			Msg("Path is not a regular file")
		return fmt.Errorf("path is not a regular file: %s", path)
	}

	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		log.Error().
			Str("file", path).
			Msg("File does not have .pdf extension")
		return fmt.Errorf("not a PDF file: %s", path)
	}

	if fileInfo.Size() == 0 {
		log.Error().
			Str("file", path).
			Msg("Binder file is empty")
		return fmt.Errorf("binder file is empty: %s", path)
	}

	return nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}
