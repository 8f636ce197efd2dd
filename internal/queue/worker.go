package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/pkg/services"
)

// WorkerConfig configures a consumer.
type WorkerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	JobTimeout  time.Duration
}

// Worker consumes extraction jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config WorkerConfig
	log    zerolog.Logger
}

// NewWorker creates a consumer running jobs on svc.
func NewWorker(cfg WorkerConfig, svc services.ExtractionService) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("extraction service is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	log := logger.WithComponent("queue-worker")
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.QueueName: 10,
			"default":     1,
		},
		RetryDelayFunc: RetryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("type", task.Type()).Msg("Task processing error")
		}),
		Logger: NewLogAdapter(log),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeExtract, NewHandler(svc, cfg.JobTimeout))

	return &Worker{server: server, mux: mux, config: cfg, log: log}, nil
}

// Run processes jobs until the process receives SIGTERM or SIGINT.
func (w *Worker) Run() error {
	w.log.Info().Int("concurrency", w.config.Concurrency).Str("queue", w.config.QueueName).Msg("Starting queue worker")
	if err := w.server.Run(w.mux); err != nil {
		return fmt.Errorf("queue worker stopped: %w", err)
	}
	return nil
}

// Shutdown stops the worker after in-flight jobs finish.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.log.Info().Msg("Queue worker stopped")
}

// RetryDelay backs off exponentially from 5s, capped at one minute.
func RetryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n < 0 || n > 3 {
		return time.Minute
	}
	return time.Duration(5*(1<<uint(n))) * time.Second
}

// LogAdapter routes asynq's internal logging to zerolog.
type LogAdapter struct {
	log zerolog.Logger
}

// NewLogAdapter wraps log for asynq.Config.Logger.
func NewLogAdapter(log zerolog.Logger) *LogAdapter {
	return &LogAdapter{log: log}
}

func (a *LogAdapter) Debug(args ...interface{}) { a.log.Debug().Msg(fmt.Sprint(args...)) }
func (a *LogAdapter) Info(args ...interface{})  { a.log.Info().Msg(fmt.Sprint(args...)) }
func (a *LogAdapter) Warn(args ...interface{})  { a.log.Warn().Msg(fmt.Sprint(args...)) }
func (a *LogAdapter) Error(args ...interface{}) { a.log.Error().Msg(fmt.Sprint(args...)) }
func (a *LogAdapter) Fatal(args ...interface{}) { a.log.Fatal().Msg(fmt.Sprint(args...)) }

var _ asynq.Logger = (*LogAdapter)(nil)
