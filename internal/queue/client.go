package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/pkg/services"
)

// Job defaults
const (
	DefaultQueue     = "ocr"
	DefaultMaxRetry  = 3
	DefaultRetention = 24 * time.Hour
)

// ClientConfig configures a producer.
type ClientConfig struct {
	RedisURL   string
	QueueName  string
	JobTimeout time.Duration
	MaxRetry   int
	Retention  time.Duration
}

// Client enqueues extraction jobs and reads their results.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	config    ClientConfig
	log       zerolog.Logger
}

// NewClient connects a producer to Redis.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueue
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		config:    cfg,
		log:       logger.WithComponent("queue-client"),
	}, nil
}

// Enqueue submits an extraction job and returns the payload with its job id.
func (c *Client) Enqueue(ctx context.Context, p ExtractPayload) (*asynq.TaskInfo, ExtractPayload, error) {
	opts := []asynq.Option{
		asynq.Queue(c.config.QueueName),
		asynq.MaxRetry(c.config.MaxRetry),
		asynq.Retention(c.config.Retention),
	}
	if c.config.JobTimeout > 0 {
		opts = append(opts, asynq.Timeout(c.config.JobTimeout))
	}

	task, p, err := NewExtractTask(p, opts...)
	if err != nil {
		return nil, p, err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil, p, fmt.Errorf("job %s already queued: %w", p.JobID, err)
		}
		return nil, p, fmt.Errorf("failed to enqueue job: %w", err)
	}
	c.log.Info().Str("job_id", p.JobID).Str("queue", info.Queue).Str("file", p.FilePath).Msg("Extraction job enqueued")
	return info, p, nil
}

// Result returns the stored outcome of a finished job, or nil while it is
// still pending.
func (c *Client) Result(jobID string) (*services.BatchItem, *asynq.TaskInfo, error) {
	info, err := c.inspector.GetTaskInfo(c.config.QueueName, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up job %s: %w", jobID, err)
	}
	if len(info.Result) == 0 {
		return nil, info, nil
	}
	var item services.BatchItem
	if err := json.Unmarshal(info.Result, &item); err != nil {
		return nil, info, fmt.Errorf("failed to decode job result: %w", err)
	}
	return &item, info, nil
}

// Close releases the Redis connections.
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}
