package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume extraction jobs from the Redis queue",
	Long: `Run a queue worker that processes ocr:extract jobs enqueued with
"ocrpipe enqueue". The envelope of every finished job is stored as the task
result and kept for 24 hours.

Required environment variables:
  REDIS_URL - redis://[:password@]host:port/db

Optional environment variables:
  OCR_QUEUE_NAME     - Queue name (default: ocr)
  WORKER_CONCURRENCY - Parallel jobs (default: 2)
  OCR_JOB_TIMEOUT    - Timeout per job (default: 5m)`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("concurrency", 0, "Parallel jobs (overrides WORKER_CONCURRENCY)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("worker-cmd")

	ex, cfg, err := newExtractor(context.Background())
	if err != nil {
		return err
	}
	defer ex.Close()

	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL environment variable is required")
	}

	concurrency := cfg.WorkerConcurrency
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		concurrency = n
	}

	w, err := queue.NewWorker(queue.WorkerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: concurrency,
		JobTimeout:  cfg.JobTimeout,
	}, ex)
	if err != nil {
		return fmt.Errorf("failed to create queue worker: %w", err)
	}

	log.Info().Str("queue", cfg.QueueName).Int("concurrency", concurrency).Msg("Worker ready")
	return w.Run()
}
