package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/pkg/services"
)

// Handler processes ocr:extract tasks.
type Handler struct {
	svc     services.ExtractionService
	timeout time.Duration
}

// NewHandler returns a handler running extractions on svc. A positive timeout
// bounds every job.
func NewHandler(svc services.ExtractionService, timeout time.Duration) *Handler {
	return &Handler{svc: svc, timeout: timeout}
}

// ProcessTask implements asynq.Handler. Jobs that can never succeed (bad
// payload, missing or unsupported file) are not retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	startTime := time.Now()

	p, err := ParseExtractPayload(t.Payload())
	if err != nil {
		log := logger.WithComponent("queue")
		log.Error().Err(err).Str("type", t.Type()).Msg("Rejecting task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := logger.WithJobID(p.JobID)
	log.Info().Str("file", p.FilePath).Str("profile", p.Profile).Str("mode", p.Mode).Msg("Processing extraction job")

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	env, err := h.svc.Extract(ctx, p.FilePath, p.Profile, p.Options())
	duration := time.Since(startTime)

	item := services.BatchItem{File: p.FilePath, JobID: p.JobID, Envelope: env, Status: services.StatusOK}
	if err != nil {
		item.Status = services.StatusFailed
		item.Error = err.Error()
	}
	if werr := writeResult(t, item); werr != nil {
		log.Warn().Err(werr).Msg("Failed to store job result")
	}

	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("Extraction job failed")
		if permanent(err) {
			return fmt.Errorf("extraction failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("extraction failed: %w", err)
	}

	log.Info().
		Dur("duration", duration).
		Str("best_strategy", env.Metadata.BestStrategy).
		Float64("confidence", env.Metadata.Confidence).
		Bool("cache_hit", env.Metadata.CacheHit).
		Msg("Extraction job completed")
	return nil
}

// permanent reports failures that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ocrerr.ErrFileMissing) ||
		errors.Is(err, ocrerr.ErrFileUnreadable) ||
		errors.Is(err, ocrerr.ErrUnsupportedFormat)
}

func writeResult(t *asynq.Task, item services.BatchItem) error {
	w := t.ResultWriter()
	if w == nil {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
