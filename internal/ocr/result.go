package ocr

import (
	"strings"
	"unicode"
)

// Backend names reported on a Result.
const (
	BackendInProcess  = "in_process"
	BackendSubprocess = "subprocess"
)

// Word is one recognized word with its engine confidence (0-100).
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of one OCR invocation.
type Result struct {
	Text string `json:"text"`

	// Confidence is the mean word confidence (0-100), or the word-shape
	// estimate when Estimated is set.
	Confidence float64 `json:"average_confidence"`
	Words      []Word  `json:"words,omitempty"`
	Estimated  bool    `json:"estimated"`

	// OK is false when the engine ran out of time or produced nothing usable.
	OK      bool   `json:"ok"`
	Backend string `json:"backend"`
}

// MeanConfidence averages word confidences, ignoring negative entries. The
// second value is false when no word carries a confidence.
func MeanConfidence(words []Word) (float64, bool) {
	var sum float64
	n := 0
	for _, w := range words {
		if w.Confidence < 0 {
			continue
		}
		sum += w.Confidence
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// WordConfidence estimates a confidence from the share of words that contain
// a letter or digit.
func WordConfidence(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	good := 0
	for _, w := range words {
		if strings.IndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			good++
		}
	}
	return 100 * float64(good) / float64(len(words))
}

// Finish trims the text and fills Confidence from the words, falling back to
// the word-shape estimate.
func (r *Result) Finish() {
	r.Text = strings.TrimSpace(r.Text)
	if mean, ok := MeanConfidence(r.Words); ok {
		r.Confidence = mean
		r.Estimated = false
		return
	}
	r.Confidence = WordConfidence(r.Text)
	r.Estimated = true
}
