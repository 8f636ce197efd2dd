package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract text from an image or PDF",
	Long: `Extract text from an image (jpg, png, gif, bmp, tiff) or a PDF.

The document profile tunes preprocessing and OCR settings:
  receipt, invoice, document, form, handwritten, screenshot, photo, general

Modes:
  auto         standard strategy with escalation to voting; tiles images above 4000px
  parallel     run the strategies concurrently and vote
  regions      detect text regions and read them in reading order
  incremental  tile the image and skip blank tiles

Relevant environment variables:
  TESSDATA_PREFIX - tesseract language data directory
  OCR_CACHE_ROOT  - cache root (entries live in <root>/ocr)
  OCR_CLOUD_PDF   - try Google Vision / Document AI for PDFs without a text layer`,
	Example: `  # Extract a receipt to stdout
  ocrpipe extract receipt.jpg --profile receipt

  # Full envelope as JSON, bypassing the cache
  ocrpipe extract scan.png --json --no-cache -o result.json

  # Large poster, reading only non-blank tiles
  ocrpipe extract poster.tif --mode incremental`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("profile", "p", "general", "Document profile")
	extractCmd.Flags().StringP("language", "l", "", "OCR languages overriding the profile (e.g. eng+deu)")
	extractCmd.Flags().String("mode", models.ModeAuto, "Extraction mode: auto, parallel, regions, incremental")
	extractCmd.Flags().Bool("no-cache", false, "Bypass the result cache")
	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().BoolP("metadata", "m", false, "Include metadata in text output")
	extractCmd.Flags().Bool("json", false, "Output the full envelope as JSON")
	extractCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract-cmd")

	profileName, _ := cmd.Flags().GetString("profile")
	language, _ := cmd.Flags().GetString("language")
	mode, _ := cmd.Flags().GetString("mode")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	outputPath, _ := cmd.Flags().GetString("output")
	includeMetadata, _ := cmd.Flags().GetBool("metadata")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	if err := validateMode(mode); err != nil {
		return err
	}

	filePath := args[0]
	log.Info().
		Str("file", filePath).
		Str("profile", profileName).
		Str("mode", mode).
		Bool("no_cache", noCache).
		Int("timeout", timeoutSecs).
		Msg("Starting extraction")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	ex, _, err := newExtractor(ctx)
	if err != nil {
		return err
	}
	defer ex.Close()

	opts := models.ExtractOptions{UseCache: !noCache, Language: language, Mode: mode}
	env, err := ex.Extract(ctx, filePath, profileName, opts)
	if err != nil {
		if env != nil && jsonOutput {
			// The diagnostic envelope explains what was tried.
			_ = writeOutput(env, outputPath, true, false, log)
		}
		return handleExtractError(err, log)
	}

	return writeOutput(env, outputPath, jsonOutput, includeMetadata, log)
}

func validateMode(mode string) error {
	switch mode {
	case models.ModeAuto, models.ModeParallel, models.ModeRegions, models.ModeIncremental:
		return nil
	}
	return fmt.Errorf("invalid mode: %s (must be auto, parallel, regions or incremental)", mode)
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
				Msg("Received interrupt signal, canceling extraction")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// handleExtractError provides user-friendly error messages for pipeline failures
func handleExtractError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Extraction failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("extraction timed out. Try increasing --timeout or using --mode incremental for large images")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("extraction was canceled")
	case errors.Is(err, ocrerr.ErrFileMissing):
		return fmt.Errorf("file not found: %w", err)
	case errors.Is(err, ocrerr.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported file type. Supported: pdf, jpg, jpeg, png, gif, bmp, tiff, tif")
	case errors.Is(err, ocrerr.ErrFileUnreadable):
		return fmt.Errorf("the file could not be read or decoded. Please check the file integrity: %w", err)
	case errors.Is(err, ocrerr.ErrEngineUnavailable):
		return fmt.Errorf("tesseract is not available. Please verify:\n\n" +
			"1. tesseract is installed and on PATH (or TESSERACT_PATH is set)\n" +
			"2. TESSDATA_PREFIX points at a directory with the profile languages\n\n" +
			"Original error: %w", err)
	case errors.Is(err, ocrerr.ErrNoStrategySucceeded):
		return fmt.Errorf("no text could be extracted. The image may be blank or too degraded: %w", err)
	default:
		return fmt.Errorf("extraction failed: %w", err)
	}
}

// writeOutput formats the envelope as text or JSON and writes it
func writeOutput(env *models.Envelope, outputPath string, jsonOutput, includeMetadata bool, log zerolog.Logger) error {
	var outputData []byte

	if jsonOutput {
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = data
	} else {
		var output strings.Builder
		if includeMetadata {
			md := env.Metadata
			output.WriteString("=== Extraction Results ===\n")
			output.WriteString(fmt.Sprintf("Profile: %s\n", md.Profile))
			output.WriteString(fmt.Sprintf("File type: %s\n", env.FileType))
			if md.Method != "" {
				output.WriteString(fmt.Sprintf("Method: %s\n", md.Method))
			}
			if md.MethodUsed != "" {
				output.WriteString(fmt.Sprintf("PDF method: %s\n", md.MethodUsed))
			}
			output.WriteString(fmt.Sprintf("Best strategy: %s (%d tried)\n", md.BestStrategy, md.StrategiesTried))
			output.WriteString(fmt.Sprintf("Confidence: %.1f%%\n", md.Confidence))
			if md.QualityAssessment != nil {
				output.WriteString(fmt.Sprintf("Quality grade: %s (corrected: %v)\n", md.QualityAssessment.Grade, md.Corrected))
			}
			output.WriteString(fmt.Sprintf("Cache hit: %v\n", md.CacheHit))
			output.WriteString(fmt.Sprintf("Processing time: %dms\n", md.ProcessingTimeMS))
			output.WriteString("\n=== Extracted Text ===\n\n")
		}
		output.WriteString(env.Text)
		outputData = []byte(output.String())
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", filepath.Clean(outputPath)).
			Int("bytes", len(outputData)).
			Msg("Extraction results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()
	return nil
}
