package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bindersplit/internal/logger"
	"bindersplit/internal/session"
)

var assessCmd = &cobra.Command{
	Use:   "assess [binder-pdf]",
	Short: "Assess the scan profile of a binder PDF",
	Long: `Sample the binder's native text and report the scan profile that the
split command would use: whether OCR would be enabled and whether the fast
native-text-only pass would be skipped.

Useful for checking up front whether a binder is worth running in quick mode.`,
	Example: `  # Human-readable profile
  bindersplit assess binder.pdf

  # Profile as JSON
  bindersplit assess binder.pdf --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAssess,
}

func init() {
	rootCmd.AddCommand(assessCmd)

	assessCmd.Flags().Bool("json", false, "Output the profile as JSON")
}

func runAssess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("assess")

	jsonOutput, _ := cmd.Flags().GetBool("json")
	binderPath := args[0]

	if err := validateBinderFile(binderPath, log); err != nil {
		return err
	}

	profile := session.AssessScanProfile(binderPath)

	if jsonOutput {
		return printJSON(profile)
	}

	fmt.Printf("Sampled pages:   %d\n", profile.SamplePages)
	fmt.Printf("Low text pages:  %d (%.0f%%)\n", profile.LowPages, profile.LowRatio*100)
	fmt.Printf("Med text pages:  %d (%.0f%%)\n", profile.MedPages, profile.MedRatio*100)
	fmt.Printf("High text pages: %d (%.0f%%)\n", profile.HighPages, profile.HighRatio*100)
	fmt.Printf("OCR enabled:     %v\n", profile.AllowOCR)
	fmt.Printf("Skip fast pass:  %v\n", profile.SkipQuick)
	if profile.SkipReason != "" {
		fmt.Printf("Skip reason:     %s\n", profile.SkipReason)
	}
	return nil
}

// printJSON pretty-prints any value to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	data = append(data, '\n')
	_, err = os.Stdout.Write(data)
	return err
}
