package splitter_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"bindersplit/internal/config"
	"bindersplit/internal/splitter"
)

// Example demonstrates processing one binder end to end.
func Example() {
	// Load .env file (using godotenv in main)
	// This should be done in your main() function.

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Compile the configured rule set once; the splitter is reusable
	// across binders.
	sp, err := splitter.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create splitter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	report, err := sp.ProcessPDF(ctx, "binder.pdf", splitter.Hooks{
		Status: func(msg string) { fmt.Println(msg) },
	})
	if err != nil {
		log.Fatalf("Failed to process binder: %v", err)
	}

	fmt.Printf("Auto-saved %d document(s) in %v\n", report.AutoSaved, report.Elapsed)
	for _, line := range report.Lines {
		fmt.Println(line)
	}
	for _, item := range report.PromptItems {
		fmt.Printf("Needs review: %s (%s)\n", item.Prefix, item.Kind)
	}
}

// Example_quickMode demonstrates the native-text-only fast mode.
func Example_quickMode() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	sp, err := splitter.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create splitter: %v", err)
	}

	// Quick mode skips OCR entirely: useful when the binder is known to
	// carry native text, or for a cheap first look.
	sp.SetMode(splitter.ModeQuick)

	report, err := sp.ProcessPDF(context.Background(), "binder.pdf", splitter.Hooks{})
	if err != nil {
		log.Fatalf("Failed to process binder: %v", err)
	}
	fmt.Printf("Auto-saved %d document(s)\n", report.AutoSaved)
}

// Example_ruleFilter demonstrates running a subset of the rule set.
func Example_ruleFilter() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Only the dealer pair participates in this run.
	enabled := map[string]bool{
		"Dealer Application": true,
		"Location Page DA":   true,
	}
	sp, err := splitter.New(cfg, func(name string) bool { return enabled[name] })
	if err != nil {
		log.Fatalf("Failed to create splitter: %v", err)
	}

	fmt.Printf("Running with %d rule(s)\n", len(sp.Rules()))
}
