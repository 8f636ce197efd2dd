package pdftext

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// Vision sends scanned PDFs to Google Cloud Vision document text detection.
type Vision struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewVision creates a Vision extractor with credentials from the environment.
func NewVision(ctx context.Context) (*Vision, error) {
	const op = "NewVision"

	opts := CredentialOptions()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, ocrerr.New(op, ocrerr.ErrEngineUnavailable, "no credentials found in environment")
		}
		return nil, ocrerr.New(op, ocrerr.ErrEngineUnavailable, fmt.Sprintf("failed to create Vision client: %v", err))
	}
	return NewVisionWithClient(client), nil
}

// NewVisionWithClient creates a Vision extractor with an explicit client.
func NewVisionWithClient(client *vision.ImageAnnotatorClient) *Vision {
	return &Vision{client: client, log: logger.WithComponent("pdf-vision")}
}

// Extract runs DOCUMENT_TEXT_DETECTION on the PDF.
func (v *Vision) Extract(ctx context.Context, path string) (*Result, error) {
	const op = "ExtractPDFVision"

	data, err := readPDF(op, path)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  data,
					MimeType: "application/pdf",
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, ocrerr.New(op, ocrerr.ErrStrategyFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return nil, ocrerr.New(op, ocrerr.ErrStrategyFailed, "no response from Vision API")
	}
	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return nil, ocrerr.New(op, ocrerr.ErrStrategyFailed, fmt.Sprintf("Vision API error: %s", fileResp.Error.Message))
	}

	res, err := visionResult(fileResp)
	if err != nil {
		return res, err
	}
	v.log.Debug().Int("pages", res.PageCount).Float64("confidence", res.Confidence).Msg("Vision extracted PDF text")
	return res, nil
}

// visionResult joins page texts and averages the page confidences.
func visionResult(fileResp *visionpb.AnnotateFileResponse) (*Result, error) {
	const op = "ExtractPDFVision"

	res := &Result{Method: MethodVision, PageCount: len(fileResp.Responses)}
	var texts []string
	var confSum float64
	var confCount int
	for i, page := range fileResp.Responses {
		if page.Error != nil {
			return nil, ocrerr.New(op, ocrerr.ErrStrategyFailed, fmt.Sprintf("page %d: %s", i+1, page.Error.Message))
		}
		if page.FullTextAnnotation == nil {
			continue
		}
		if text := strings.TrimSpace(page.FullTextAnnotation.Text); text != "" {
			texts = append(texts, text)
		}
		for _, p := range page.FullTextAnnotation.Pages {
			if p.Confidence > 0 {
				confSum += float64(p.Confidence)
				confCount++
			}
		}
	}
	res.Text = strings.Join(texts, "\n\n")
	if confCount > 0 {
		res.Confidence = 100 * confSum / float64(confCount)
	}
	if res.Text == "" {
		return res, ocrerr.New(op, ErrNoText, "")
	}
	return res, nil
}

// Close closes the underlying Vision client.
func (v *Vision) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
