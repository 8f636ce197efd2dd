// Package queue runs extractions as background jobs on a Redis-backed asynq
// queue. Producers enqueue an ocr:extract task; workers run the extraction
// and store the envelope JSON as the task result.
//
// Environment:
//   - REDIS_URL: redis://[:password@]host:port/db
//   - OCR_QUEUE_NAME: queue the tasks are routed to (default "ocr")
//   - WORKER_CONCURRENCY: parallel jobs per worker process
package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"ocrpipe/pkg/models"
)

// TypeExtract is the task type of one extraction job.
const TypeExtract = "ocr:extract"

// ExtractPayload is the JSON body of an ocr:extract task.
type ExtractPayload struct {
	FilePath string `json:"file_path"`
	Profile  string `json:"profile"`
	Language string `json:"language,omitempty"`
	Mode     string `json:"mode,omitempty"`
	UseCache bool   `json:"use_cache"`
	JobID    string `json:"job_id"`
}

// Options converts the payload into facade options.
func (p ExtractPayload) Options() models.ExtractOptions {
	opts := models.DefaultExtractOptions()
	opts.UseCache = p.UseCache
	opts.Language = p.Language
	if p.Mode != "" {
		opts.Mode = p.Mode
	}
	return opts
}

// NewExtractTask builds an ocr:extract task. A job id is generated when the
// payload has none; it doubles as the asynq task id so duplicates are rejected.
func NewExtractTask(p ExtractPayload, opts ...asynq.Option) (*asynq.Task, ExtractPayload, error) {
	if strings.TrimSpace(p.FilePath) == "" {
		return nil, p, fmt.Errorf("file_path is required")
	}
	if p.JobID == "" {
		p.JobID = uuid.NewString()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, p, fmt.Errorf("failed to encode payload: %w", err)
	}
	opts = append([]asynq.Option{asynq.TaskID(p.JobID)}, opts...)
	return asynq.NewTask(TypeExtract, data, opts...), p, nil
}

// ParseExtractPayload decodes and validates a task payload.
func ParseExtractPayload(data []byte) (ExtractPayload, error) {
	var p ExtractPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if strings.TrimSpace(p.FilePath) == "" {
		return p, fmt.Errorf("payload without file_path")
	}
	return p, nil
}
