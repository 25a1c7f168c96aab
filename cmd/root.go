package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bindersplit/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "bindersplit",
	Short: "Binder splitter - split multi-document insurance binder PDFs",
	Long: `Binder splitter detects the individual documents stapled together in
an insurance binder PDF and saves each one as its own file.

Detection is rule driven: a JSON rule set describes the start cues, end cues
and naming conventions of each document type, and pages that carry no native
text are OCR'd on demand.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Welcome to the binder splitter!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
