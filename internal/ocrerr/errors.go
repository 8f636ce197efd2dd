// Package ocrerr defines the error categories shared by every stage of the
// extraction pipeline.
//
// Only FileMissing, FileUnreadable, UnsupportedFormat, EngineUnavailable and
// NoStrategySucceeded cross the public facade. The remaining categories are
// recorded in diagnostics and degrade to a fallback inside the pipeline.
package ocrerr

import (
	"errors"
	"fmt"
)

// Pipeline error categories
var (
	// ErrFileMissing is returned when the input path does not exist.
	ErrFileMissing = errors.New("input file does not exist")

	// ErrFileUnreadable is returned when the input exists but cannot be read or decoded.
	ErrFileUnreadable = errors.New("input file cannot be read or decoded")

	// ErrUnsupportedFormat is returned for extensions outside the accepted image and PDF set.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrQualityAssessmentFailed marks an assessor failure. It degrades to a zeroed report.
	ErrQualityAssessmentFailed = errors.New("quality assessment failed")

	// ErrPreprocessingFailed marks a preprocessing failure. Callers fall back to the original image.
	ErrPreprocessingFailed = errors.New("preprocessing failed")

	// ErrEngineUnavailable is returned when both the in-process and the subprocess OCR backends fail.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")

	// ErrEngineTimeout marks a subprocess run that exceeded its wall timeout.
	ErrEngineTimeout = errors.New("OCR engine timed out")

	// ErrStrategyFailed marks a single failed extraction strategy.
	ErrStrategyFailed = errors.New("extraction strategy failed")

	// ErrNoStrategySucceeded is returned when every attempted strategy failed.
	ErrNoStrategySucceeded = errors.New("no extraction strategy succeeded")

	// ErrCacheIO marks a cache read or write failure. The cache degrades to a miss.
	ErrCacheIO = errors.New("cache I/O failure")
)

// Error wraps a category with the operation that failed.
type Error struct {
	// Op is the operation that failed (e.g., "Load", "Preprocess", "Recognize").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocrpipe: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocrpipe: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates an Error with the specified operation and underlying error.
func New(op string, err error, details string) *Error {
	return &Error{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// Wrap wraps err as an *Error unless it already is one.
func Wrap(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		return err
	}

	return New(op, err, details)
}

// Category returns the sentinel category of err, or nil when err carries none.
func Category(err error) error {
	for _, c := range []error{
		ErrFileMissing,
		ErrFileUnreadable,
		ErrUnsupportedFormat,
		ErrEngineUnavailable,
		ErrNoStrategySucceeded,
		ErrEngineTimeout,
		ErrPreprocessingFailed,
		ErrQualityAssessmentFailed,
		ErrStrategyFailed,
		ErrCacheIO,
	} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// IsUserVisible reports whether err belongs to a category that crosses the facade.
func IsUserVisible(err error) bool {
	switch Category(err) {
	case ErrFileMissing, ErrFileUnreadable, ErrUnsupportedFormat, ErrEngineUnavailable, ErrNoStrategySucceeded:
		return true
	}
	return false
}
