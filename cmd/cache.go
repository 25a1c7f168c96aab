package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"bindersplit/internal/cache"
	"bindersplit/internal/config"
	"bindersplit/internal/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the OCR and template caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache usage",
	Long: `Report entry counts and on-disk size of the two cache tiers: per-binder
OCR results and cross-binder page templates.`,
	RunE: runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete both cache tiers",
	Long: `Delete all cached OCR results and page templates. Purely a performance
event: the next run re-OCRs what it needs and repopulates the caches.`,
	RunE: runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheStatsCmd.Flags().Bool("json", false, "Output usage as JSON")
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ocrUsage := cache.OCRUsage(cfg.CacheDir)
	tmplUsage := cache.TemplateUsage(cfg.CacheDir)

	if jsonOutput {
		return printJSON(map[string]cache.Usage{
			"ocr":       ocrUsage,
			"templates": tmplUsage,
		})
	}
	fmt.Printf("OCR cache:      %d entries, %d bytes\n", ocrUsage.Files, ocrUsage.Bytes)
	fmt.Printf("Template cache: %d entries, %d bytes\n", tmplUsage.Files, tmplUsage.Bytes)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cache")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := cache.Clear(cfg.CacheDir); err != nil {
		log.Error().Err(err).Str("dir", cfg.CacheDir).Msg("Cache clear failed")
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	log.Info().Str("dir", cfg.CacheDir).Msg("Cache cleared")
	fmt.Println("Cache cleared.")
	return nil
}
