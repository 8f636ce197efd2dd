// Package ocr invokes the OCR engine for the extraction pipeline.
//
// A Layer puts an in-process fast path in front of a crash-isolated
// subprocess backend. Fast-path failures fall through to the subprocess; after
// MaxFailures consecutive fast-path failures the layer is degraded and only
// the subprocess runs until Reset is called.
//
// The layer fails with ocrerr.ErrEngineUnavailable only when both backends
// fail. A subprocess timeout yields an empty Result with OK false and a nil
// error so that upstream voting can continue.
//
// Environment:
//   - TESSDATA_PREFIX: language data directory passed to both backends
//   - OMP_THREAD_LIMIT: thread limit for the subprocess (default 1)
package ocr

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
)

// DefaultMaxFailures is the number of consecutive fast-path failures that
// degrades the layer.
const DefaultMaxFailures = 3

// Engine recognizes the text in an image file.
type Engine interface {
	Recognize(ctx context.Context, imagePath string, cfg Config) (*Result, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, imagePath string, cfg Config) (*Result, error)

// Recognize calls f.
func (f EngineFunc) Recognize(ctx context.Context, imagePath string, cfg Config) (*Result, error) {
	return f(ctx, imagePath, cfg)
}

// Layer is the crash-isolated OCR entry point. It is itself an Engine.
type Layer struct {
	fast        Engine
	subprocess  Engine
	failures    atomic.Int32
	maxFailures int32
	log         zerolog.Logger
}

// NewLayer returns a layer over the given backends. fast may be nil, in which
// case every call goes to the subprocess.
func NewLayer(fast, subprocess Engine, maxFailures int) *Layer {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &Layer{
		fast:        fast,
		subprocess:  subprocess,
		maxFailures: int32(maxFailures),
		log:         logger.WithComponent("ocr"),
	}
}

// Recognize runs the fast path when healthy and falls back to the subprocess.
func (l *Layer) Recognize(ctx context.Context, imagePath string, cfg Config) (*Result, error) {
	const op = "Recognize"

	if l.fast != nil && l.IsHealthy() {
		res, err := l.fast.Recognize(ctx, imagePath, cfg)
		if err == nil && res != nil {
			l.failures.Store(0)
			res.OK = true
			if res.Backend == "" {
				res.Backend = BackendInProcess
			}
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		n := l.failures.Add(1)
		l.log.Warn().Err(err).Int32("consecutive_failures", n).Str("image", imagePath).
			Msg("In-process OCR failed, falling back to subprocess")
		if n == l.maxFailures {
			l.log.Error().Int32("consecutive_failures", n).Msg("OCR layer degraded to subprocess only")
		}
	}

	if l.subprocess == nil {
		return nil, ocrerr.New(op, ocrerr.ErrEngineUnavailable, "no subprocess backend configured")
	}

	res, err := l.subprocess.Recognize(ctx, imagePath, cfg)
	if err != nil {
		if errors.Is(err, ocrerr.ErrEngineTimeout) {
			l.log.Warn().Str("image", imagePath).Msg("OCR subprocess timed out")
			return &Result{OK: false, Backend: BackendSubprocess}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ocrerr.New(op, ocrerr.ErrEngineUnavailable, err.Error())
	}
	res.OK = true
	res.Backend = BackendSubprocess
	return res, nil
}

// Text returns only the recognized text.
func (l *Layer) Text(ctx context.Context, imagePath string, cfg Config) (string, error) {
	res, err := l.Recognize(ctx, imagePath, cfg)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// IsHealthy reports whether the fast path is still in use.
func (l *Layer) IsHealthy() bool {
	return l.failures.Load() < l.maxFailures
}

// Failures returns the current consecutive fast-path failure count.
func (l *Layer) Failures() int {
	return int(l.failures.Load())
}

// Reset clears the failure counter and returns the layer to healthy.
func (l *Layer) Reset() {
	l.failures.Store(0)
	l.log.Info().Msg("OCR layer reset")
}
