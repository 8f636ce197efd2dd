package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"ocrpipe/internal/config"
	"ocrpipe/internal/extract"
	"ocrpipe/internal/logger"
)

var version = "2.0.0"

var rootCmd = &cobra.Command{
	Use:   "ocrpipe",
	Short: "ocrpipe - OCR extraction pipeline for receipts, invoices and documents",
	Long: `ocrpipe extracts text from images and PDFs.

Images are assessed for quality, auto-corrected when needed, preprocessed per
document profile and read by tesseract with several strategies; the most
trustworthy result wins. PDFs with a text layer are read directly. Results are
cached on disk by file content and settings.

Run a command with --help for its options.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		return logger.SetLevel(level)
	},
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("ocrpipe executed")

		fmt.Println("Welcome to ocrpipe!")
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
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
}

// newExtractor loads the configuration and wires the extraction pipeline.
func newExtractor(ctx context.Context) (*extract.Extractor, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ex, err := extract.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create extraction pipeline: %w", err)
	}
	return ex, cfg, nil
}
