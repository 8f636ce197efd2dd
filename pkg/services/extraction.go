package services

import (
	"context"

	"ocrpipe/pkg/models"
)

// ExtractionService turns an image or PDF into a text envelope
type ExtractionService interface {
	// Extract processes the file at path with the named profile. Unknown
	// profile names fall back to the general profile.
	Extract(ctx context.Context, path, profile string, opts models.ExtractOptions) (*models.Envelope, error)
}

// BatchItem is the outcome of one file in a batch or queued run
type BatchItem struct {
	File     string           `json:"file"`
	JobID    string           `json:"job_id,omitempty"`
	Envelope *models.Envelope `json:"envelope,omitempty"`
	Error    string           `json:"error,omitempty"`
	Status   string           `json:"status"` // ok, failed, skipped
}

// Batch item statuses
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)
