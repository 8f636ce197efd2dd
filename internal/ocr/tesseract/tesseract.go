// Package tesseract is the in-process OCR backend built on gosseract.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
	"ocrpipe/internal/ocr"
)

// Engine recognizes images with a gosseract client created per call.
// gosseract exposes no engine-mode setter, so Config.OEM only reaches the
// subprocess backend.
type Engine struct {
	TessdataPrefix string
	clientFactory  func() *gosseract.Client
}

// New returns an in-process engine using the given language data directory.
func New(tessdataPrefix string) *Engine {
	return &Engine{TessdataPrefix: tessdataPrefix, clientFactory: gosseract.NewClient}
}

// Version reports the linked tesseract library version.
func Version() string {
	return gosseract.Version()
}

type outcome struct {
	res *ocr.Result
	err error
}

// Recognize runs the engine on imagePath. The underlying call cannot be
// interrupted; on cancellation the client is left to finish in the background.
func (e *Engine) Recognize(ctx context.Context, imagePath string, cfg ocr.Config) (*ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan outcome, 1)
	go func() {
		c := e.clientFactory()
		defer c.Close()
		res, err := e.recognize(c, imagePath, cfg)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.res, o.err
	}
}

func (e *Engine) recognize(c *gosseract.Client, imagePath string, cfg ocr.Config) (*ocr.Result, error) {
	if e.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(cfg.LanguageList()...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(cfg.PSM)); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	for k, v := range cfg.Variables() {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	if err := c.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	res := &ocr.Result{Text: text, Backend: ocr.BackendInProcess}

	if boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD); err == nil {
		res.Words = make([]ocr.Word, 0, len(boxes))
		for _, b := range boxes {
			res.Words = append(res.Words, ocr.Word{Text: b.Word, Confidence: b.Confidence})
		}
	}
	res.Finish()
	return res, nil
}
