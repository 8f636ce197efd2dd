package pdftext

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// DocumentAIConfig locates the OCR processor.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// ProcessorName returns the fully qualified processor resource name.
func (c DocumentAIConfig) ProcessorName() string {
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
	if c.ProcessorVersion != "" {
		name += "/processorVersions/" + c.ProcessorVersion
	}
	return name
}

// Endpoint returns the regional API endpoint, or "" for the default one.
func (c DocumentAIConfig) Endpoint() string {
	if c.Location == "" || c.Location == "us" {
		return ""
	}
	return fmt.Sprintf("%s-documentai.googleapis.com:443", c.Location)
}

// DocumentAI sends scanned PDFs to a Document AI OCR processor.
type DocumentAI struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAI creates a Document AI extractor with credentials from the
// environment.
func NewDocumentAI(ctx context.Context, config DocumentAIConfig) (*DocumentAI, error) {
	const op = "NewDocumentAI"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, ocrerr.New(op, ocrerr.ErrEngineUnavailable, "GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	var opts []option.ClientOption
	if endpoint := config.Endpoint(); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	opts = append(opts, CredentialOptions()...)

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, ocrerr.New(op, ocrerr.ErrEngineUnavailable, fmt.Sprintf("failed to create Document AI client for location %s: %v", config.Location, err))
	}
	return NewDocumentAIWithClient(config, client), nil
}

// NewDocumentAIWithClient creates an extractor with an explicit client.
func NewDocumentAIWithClient(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAI {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &DocumentAI{client: client, config: config, log: logger.WithComponent("pdf-documentai")}
}

// Extract processes the PDF and returns the document text.
func (d *DocumentAI) Extract(ctx context.Context, path string) (*Result, error) {
	const op = "ExtractPDFDocumentAI"

	data, err := readPDF(op, path)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: "application/pdf",
			},
		},
	}

	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, d.handleError(op, err)
	}
	if resp.Document == nil {
		return nil, ocrerr.New(op, ocrerr.ErrStrategyFailed, "no document in response")
	}

	res := documentResult(resp.Document)
	d.log.Debug().Int("pages", res.PageCount).Int("chars", len(res.Text)).Msg("Document AI extracted PDF text")
	if res.Text == "" {
		return res, ocrerr.New(op, ErrNoText, path)
	}
	return res, nil
}

func documentResult(doc *documentaipb.Document) *Result {
	res := &Result{
		Text:      strings.TrimSpace(doc.Text),
		Method:    MethodDocumentAI,
		PageCount: len(doc.Pages),
	}
	var sum float64
	var n int
	for _, p := range doc.Pages {
		if p.Layout != nil && p.Layout.Confidence > 0 {
			sum += float64(p.Layout.Confidence)
			n++
		}
	}
	if n > 0 {
		res.Confidence = 100 * sum / float64(n)
	}
	return res
}

// handleError maps Document AI failures onto pipeline categories.
func (d *DocumentAI) handleError(op string, err error) error {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"), strings.Contains(errStr, "PermissionDenied"):
		return ocrerr.New(op, ocrerr.ErrEngineUnavailable, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"), strings.Contains(errStr, "NotFound"):
		return ocrerr.New(op, ocrerr.ErrEngineUnavailable, fmt.Sprintf("processor not found: %s", d.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT"), strings.Contains(errStr, "InvalidArgument"):
		return ocrerr.New(op, ocrerr.ErrFileUnreadable, "document format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded") || strings.Contains(errStr, "context deadline exceeded"):
		return ocrerr.New(op, ocrerr.ErrStrategyFailed, "processing timeout")
	default:
		return ocrerr.New(op, ocrerr.ErrStrategyFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// Close closes the underlying Document AI client.
func (d *DocumentAI) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
