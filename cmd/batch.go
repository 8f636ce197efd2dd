package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"ocrpipe/internal/extract"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/sheets"
	"ocrpipe/pkg/models"
	"ocrpipe/pkg/services"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Extract text from every supported file in a folder",
	Long: `Walk a folder and run the extraction pipeline on every supported image and
PDF with a pool of parallel workers. Results keep the input order.

With --sheet the results are also appended to a Google Sheet, one row per file.

Optional environment variables:
  BATCH_WORKERS    - Number of parallel workers (default: 4)
  GOOGLE_SHEET_URL - Default spreadsheet for --sheet
  GOOGLE_APPLICATION_CREDENTIALS / GOOGLE_CREDENTIALS - Service account for --sheet`,
	Example: `  # Extract all receipts in a folder
  ocrpipe batch ./receipts --profile receipt

  # Write the envelopes as JSON
  ocrpipe batch ./scans --json -o results.json

  # Append a row per file to a Google Sheet
  ocrpipe batch ./invoices --profile invoice --sheet https://docs.google.com/spreadsheets/d/<id>/edit`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// batchJob is one file handed to a worker
type batchJob struct {
	FilePath string
	Index    int
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("profile", "p", "general", "Document profile")
	batchCmd.Flags().StringP("language", "l", "", "OCR languages overriding the profile")
	batchCmd.Flags().String("mode", models.ModeAuto, "Extraction mode: auto, parallel, regions, incremental")
	batchCmd.Flags().Bool("no-cache", false, "Bypass the result cache")
	batchCmd.Flags().Bool("json", false, "Output all results as JSON")
	batchCmd.Flags().StringP("output", "o", "", "Output file path for --json (default: stdout)")
	batchCmd.Flags().Int("timeout", 1800, "Timeout for the whole batch in seconds")
	batchCmd.Flags().String("sheet", "", "Google Sheets URL to append results to (default: $GOOGLE_SHEET_URL when --sheet-name is set)")
	batchCmd.Flags().String("sheet-name", "", "Sheet tab for results (default: "+sheets.DefaultSheetName+")")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	folderPath := args[0]
	profileName, _ := cmd.Flags().GetString("profile")
	language, _ := cmd.Flags().GetString("language")
	mode, _ := cmd.Flags().GetString("mode")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	sheetURL, _ := cmd.Flags().GetString("sheet")
	sheetName, _ := cmd.Flags().GetString("sheet-name")
	if sheetURL == "" && sheetName != "" {
		sheetURL = os.Getenv("GOOGLE_SHEET_URL")
		if sheetURL == "" {
			return fmt.Errorf("--sheet-name needs --sheet or GOOGLE_SHEET_URL")
		}
	}

	if err := validateMode(mode); err != nil {
		return err
	}

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	files, err := findSupportedFiles(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find files: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No supported files found in folder.")
		return nil
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	ex, _, err := newExtractor(ctx)
	if err != nil {
		return err
	}
	defer ex.Close()

	numWorkers := getNumWorkers()
	log.Info().
		Str("folder", folderPath).
		Str("profile", profileName).
		Int("files", len(files)).
		Int("workers", numWorkers).
		Msg("Starting batch extraction")

	// Progress goes to stderr when stdout carries the JSON document
	var progress io.Writer = os.Stdout
	if jsonOutput && outputPath == "" {
		progress = os.Stderr
	}
	fmt.Fprintf(progress, "Processing %d files with %d workers...\n\n", len(files), numWorkers)

	opts := models.ExtractOptions{UseCache: !noCache, Language: language, Mode: mode}
	results := processFilesInParallel(ctx, files, ex, profileName, opts, numWorkers, progress, log)

	okCount, failedCount := 0, 0
	for _, r := range results {
		if r.Status == services.StatusOK {
			okCount++
		} else {
			failedCount++
		}
	}

	fmt.Fprintln(progress)
	fmt.Fprintln(progress, strings.Repeat("=", 50))
	fmt.Fprintf(progress, "Succeeded: %d\n", okCount)
	if failedCount > 0 {
		fmt.Fprintf(progress, "Failed: %d\n", failedCount)
	}
	fmt.Fprintln(progress, strings.Repeat("=", 50))

	log.Info().
		Int("total", len(files)).
		Int("ok", okCount).
		Int("failed", failedCount).
		Msg("Batch extraction completed")

	if sheetURL != "" {
		fmt.Fprintln(progress, "Writing results to Google Sheet...")
		sheetsService, err := sheets.NewSheetsService(ctx, sheetURL)
		if err != nil {
			return fmt.Errorf("failed to create Google Sheets service: %w", err)
		}
		if err := sheetsService.WriteBatchResults(ctx, results, sheetName); err != nil {
			return fmt.Errorf("failed to write to Google Sheet: %w", err)
		}
		fmt.Fprintf(progress, "Rows added: %d\n", len(results))
	}

	if jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		if outputPath != "" {
			if err := os.WriteFile(outputPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			return nil
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return nil
}

// findSupportedFiles finds every file the pipeline accepts below folderPath
func findSupportedFiles(folderPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(folderPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && extract.IsSupported(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// getNumWorkers returns the number of workers from environment or default
func getNumWorkers() int {
	if workersStr := os.Getenv("BATCH_WORKERS"); workersStr != "" {
		if workers, err := strconv.Atoi(workersStr); err == nil && workers > 0 {
			return workers
		}
	}
	return 4
}

// processFilesInParallel runs extractions using a worker pool pattern
func processFilesInParallel(ctx context.Context, files []string, svc services.ExtractionService, profileName string, opts models.ExtractOptions, numWorkers int, progress io.Writer, log zerolog.Logger) []services.BatchItem {
	jobs := make(chan batchJob, len(files))
	results := make([]services.BatchItem, len(files))

	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", job.FilePath).
					Int("index", job.Index+1).
					Msg("Worker processing file")

				result := processSingleFile(ctx, job.FilePath, svc, profileName, opts)
				results[job.Index] = result

				mu.Lock()
				processedCount++
				fmt.Fprintf(progress, "[%d/%d] %s - %s", processedCount, len(files), filepath.Base(job.FilePath), getStatusEmoji(result.Status))
				if result.Error != "" {
					fmt.Fprintf(progress, " (%s)", result.Error)
				} else if result.Envelope != nil {
					fmt.Fprintf(progress, " (%d chars, %.1f%%)", len(result.Envelope.Text), result.Envelope.Metadata.Confidence)
				}
				fmt.Fprintln(progress)
				mu.Unlock()
			}
		}(w)
	}

	for i, f := range files {
		jobs <- batchJob{FilePath: f, Index: i}
	}
	close(jobs)

	wg.Wait()
	return results
}

// processSingleFile extracts one file, skipping work once the batch is canceled
func processSingleFile(ctx context.Context, path string, svc services.ExtractionService, profileName string, opts models.ExtractOptions) services.BatchItem {
	item := services.BatchItem{File: path, Status: services.StatusFailed}

	if ctx.Err() != nil {
		item.Status = services.StatusSkipped
		item.Error = ctx.Err().Error()
		return item
	}

	env, err := svc.Extract(ctx, path, profileName, opts)
	item.Envelope = env
	if err != nil {
		item.Error = err.Error()
		return item
	}
	if env != nil {
		item.JobID = env.Metadata.RequestID
	}
	item.Status = services.StatusOK
	return item
}

// getStatusEmoji returns an emoji for the processing status
func getStatusEmoji(status string) string {
	switch status {
	case services.StatusOK:
		return "✅"
	case services.StatusSkipped:
		return "⏭️"
	default:
		return "❌"
	}
}
