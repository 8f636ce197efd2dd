package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"ocrpipe/internal/config"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/queue"
	"ocrpipe/pkg/services"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [file...]",
	Short: "Queue files for extraction by a worker",
	Long: `Submit one ocr:extract job per file to the Redis queue. Paths are made
absolute so workers on the same host can open them. With --wait the command
polls until every job has a result and prints the results as JSON.

Required environment variables:
  REDIS_URL - redis://[:password@]host:port/db`,
	Example: `  ocrpipe enqueue scans/*.png --profile document
  ocrpipe enqueue receipt.jpg --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.Flags().StringP("profile", "p", "general", "Document profile")
	enqueueCmd.Flags().StringP("language", "l", "", "OCR languages overriding the profile")
	enqueueCmd.Flags().String("mode", "", "Extraction mode: auto, parallel, regions, incremental")
	enqueueCmd.Flags().Bool("no-cache", false, "Bypass the result cache")
	enqueueCmd.Flags().Bool("wait", false, "Wait for the results")
	enqueueCmd.Flags().Int("timeout", 600, "Maximum seconds to wait with --wait")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("enqueue-cmd")

	profileName, _ := cmd.Flags().GetString("profile")
	language, _ := cmd.Flags().GetString("language")
	mode, _ := cmd.Flags().GetString("mode")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	wait, _ := cmd.Flags().GetBool("wait")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	if mode != "" {
		if err := validateMode(mode); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL environment variable is required")
	}

	client, err := queue.NewClient(queue.ClientConfig{
		RedisURL:   cfg.RedisURL,
		QueueName:  cfg.QueueName,
		JobTimeout: cfg.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create queue client: %w", err)
	}
	defer client.Close()

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	var jobIDs []string
	for _, f := range args {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		_, p, err := client.Enqueue(ctx, queue.ExtractPayload{
			FilePath: abs,
			Profile:  profileName,
			Language: language,
			Mode:     mode,
			UseCache: !noCache,
		})
		if err != nil {
			return err
		}
		jobIDs = append(jobIDs, p.JobID)
		fmt.Fprintf(os.Stderr, "%s  %s\n", p.JobID, abs)
	}

	if !wait {
		return nil
	}

	results, err := waitForResults(ctx, client, jobIDs)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}

// waitForResults polls the queue until every job has stored a result
func waitForResults(ctx context.Context, client *queue.Client, jobIDs []string) ([]services.BatchItem, error) {
	results := make([]services.BatchItem, len(jobIDs))
	done := make([]bool, len(jobIDs))
	remaining := len(jobIDs)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for remaining > 0 {
		for i, id := range jobIDs {
			if done[i] {
				continue
			}
			item, info, err := client.Result(id)
			if err != nil {
				return results, err
			}
			// Archived without a result: retries exhausted
			if item == nil && info != nil && info.State == asynq.TaskStateArchived {
				item = &services.BatchItem{JobID: id, Status: services.StatusFailed, Error: info.LastErr}
			}
			if item != nil {
				results[i] = *item
				done[i] = true
				remaining--
			}
		}
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return results, fmt.Errorf("gave up waiting for %d jobs: %w", remaining, ctx.Err())
		case <-ticker.C:
		}
	}
	return results, nil
}
