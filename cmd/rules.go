package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"bindersplit/internal/config"
	"bindersplit/internal/logger"
	"bindersplit/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and list the configured rule set",
	Long: `Load the configured rule set and region hints, compile every pattern
and print the rules in the priority order the split command applies them.

A rule that fails to compile makes the command fail, so this doubles as a
validation step after editing the rule file.`,
	Example: `  # Validate the default rule set
  bindersplit rules

  # Validate an alternate file
  bindersplit rules --rules /tmp/rules.json`,
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)

	rulesCmd.Flags().String("rules", "", "Rule set path (default: configured rules path)")
	rulesCmd.Flags().Bool("json", false, "Output the rule summary as JSON")
}

// ruleSummary is the listing row for one compiled rule.
type ruleSummary struct {
	Name     string `json:"name"`
	Scope    string `json:"scope"`
	Priority int    `json:"priority"`
	Prompt   bool   `json:"prompt"`
	Filename string `json:"filename"`
	OCRRetry bool   `json:"ocr_retry"`
}

func runRules(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("rules")

	rulesPath, _ := cmd.Flags().GetString("rules")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if rulesPath != "" {
		cfg.RulesPath = rulesPath
	}

	hints, err := rules.LoadHints(cfg.HintsPath)
	if err != nil {
		return err
	}
	ruleSet, err := rules.Load(cfg.RulesPath, hints, nil)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.RulesPath).Msg("Rule set failed to compile")
		return err
	}

	log.Info().Int("rules", len(ruleSet)).Str("path", cfg.RulesPath).Msg("Rule set compiled")

	summaries := make([]ruleSummary, 0, len(ruleSet))
	for _, r := range ruleSet {
		summaries = append(summaries, ruleSummary{
			Name:     r.Name,
			Scope:    string(r.Scope),
			Priority: r.Priority,
			Prompt:   r.Output.Prompt,
			Filename: r.Output.Filename,
			OCRRetry: r.OCRRetry,
		})
	}

	if jsonOutput {
		return printJSON(summaries)
	}
	for _, s := range summaries {
		line := fmt.Sprintf("%3d  %-12s %s", s.Priority, s.Scope, s.Name)
		if s.Prompt {
			line += "  [review]"
		}
		fmt.Println(line)
	}
	fmt.Printf("%d rule(s) OK\n", len(summaries))
	return nil
}
