// Package pdftext extracts the text of PDF documents.
//
// The direct extractor reads the embedded text layer and needs no network.
// Scanned PDFs without a text layer can optionally be sent to Google Cloud
// Vision or Document AI; a Chain tries extractors in order and returns the
// first one that finds text.
//
// Environment for the cloud extractors:
//   - GOOGLE_CREDENTIALS: inline service account JSON, OR
//   - GOOGLE_APPLICATION_CREDENTIALS: path to a service account file
//   - GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION, DOCUMENT_AI_PROCESSOR_ID (Document AI only)
//
// Cloud limits: 20MB per document for synchronous processing; Vision reads at
// most 5 pages per synchronous request.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// Extraction methods reported in envelopes
const (
	MethodDirect     = "pdf_direct"
	MethodVision     = "pdf_vision"
	MethodDocumentAI = "pdf_documentai"
)

const (
	// MaxFileSizeBytes is the largest document sent for synchronous cloud processing (20MB).
	MaxFileSizeBytes = 20 * 1024 * 1024

	// MaxPagesSync is the page limit of a synchronous Vision request.
	MaxPagesSync = 5
)

// ErrNoText is returned when an extractor read the document but found no text.
var ErrNoText = errors.New("no text found in PDF")

// Result is the text of one document.
type Result struct {
	Text       string  `json:"text"`
	Method     string  `json:"method"`
	PageCount  int     `json:"page_count"`
	Confidence float64 `json:"confidence,omitempty"` // 0-100; zero when the method has none
}

// Extractor reads the text of the PDF at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// Chain tries extractors in order.
type Chain struct {
	extractors []Extractor
	log        zerolog.Logger
}

// NewChain returns a chain over the given extractors. Nil entries are ignored.
func NewChain(extractors ...Extractor) *Chain {
	c := &Chain{log: logger.WithComponent("pdftext")}
	for _, e := range extractors {
		if e != nil {
			c.extractors = append(c.extractors, e)
		}
	}
	return c
}

// Extract returns the first result with text. When every extractor comes back
// empty the first empty result is returned together with ErrNoText. Input
// errors (missing or unreadable file) stop the chain immediately.
func (c *Chain) Extract(ctx context.Context, path string) (*Result, error) {
	var empty *Result
	var lastErr error
	for _, e := range c.extractors {
		res, err := e.Extract(ctx, path)
		if err == nil && strings.TrimSpace(res.Text) != "" {
			return res, nil
		}
		switch {
		case errors.Is(err, ocrerr.ErrFileMissing), errors.Is(err, ocrerr.ErrFileUnreadable):
			return nil, err
		case err == nil, errors.Is(err, ErrNoText):
			if empty == nil && res != nil {
				empty = res
			}
		default:
			lastErr = err
			c.log.Warn().Err(err).Msg("PDF extractor failed, trying next")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	if empty != nil {
		return empty, ocrerr.New("ExtractPDF", ErrNoText, path)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ocrerr.New("ExtractPDF", ErrNoText, path)
}

// readPDF loads and validates the document for the cloud extractors.
func readPDF(op, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ocrerr.New(op, ocrerr.ErrFileMissing, path)
		}
		return nil, ocrerr.New(op, ocrerr.ErrFileUnreadable, err.Error())
	}
	if len(data) > MaxFileSizeBytes {
		return nil, ocrerr.New(op, ocrerr.ErrStrategyFailed, fmt.Sprintf("file size: %d bytes", len(data)))
	}
	if len(data) < 4 || string(data[:4]) != "%PDF" {
		return nil, ocrerr.New(op, ocrerr.ErrFileUnreadable, "missing PDF header")
	}
	return data, nil
}

// CredentialOptions returns client options for GOOGLE_CREDENTIALS (inline
// JSON) or GOOGLE_APPLICATION_CREDENTIALS (file), in that order of preference.
// With neither set, the clients fall back to application default credentials.
func CredentialOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}
