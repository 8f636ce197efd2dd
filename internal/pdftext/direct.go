package pdftext

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// Direct reads the embedded text layer of a PDF.
type Direct struct {
	log zerolog.Logger
}

// NewDirect returns a text layer extractor.
func NewDirect() *Direct {
	return &Direct{log: logger.WithComponent("pdf-direct")}
}

// Extract joins the plain text of every page with blank lines. Pages that
// cannot be decoded are skipped. A readable document without any text yields
// a result with empty text and ErrNoText.
func (d *Direct) Extract(ctx context.Context, path string) (res *Result, err error) {
	const op = "ExtractPDFText"

	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return nil, ocrerr.New(op, ocrerr.ErrFileMissing, path)
		}
		return nil, ocrerr.New(op, ocrerr.ErrFileUnreadable, statErr.Error())
	}

	// The parser panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, ocrerr.New(op, ocrerr.ErrFileUnreadable, fmt.Sprint(r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, ocrerr.New(op, ocrerr.ErrFileUnreadable, err.Error())
	}
	defer f.Close()

	res = &Result{Method: MethodDirect, PageCount: reader.NumPage()}
	var pages []string
	for i := 1; i <= res.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			d.log.Debug().Err(err).Int("page", i).Msg("Skipping undecodable page")
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	res.Text = strings.Join(pages, "\n\n")

	d.log.Debug().Int("pages", res.PageCount).Int("chars", len(res.Text)).Msg("Read PDF text layer")
	if res.Text == "" {
		return res, ocrerr.New(op, ErrNoText, path)
	}
	return res, nil
}
