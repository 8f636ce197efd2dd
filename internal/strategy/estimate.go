package strategy

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// EstimateConfidence scores text shape for candidates without engine
// confidences. The result is clamped to [0, 100].
func EstimateConfidence(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	score := 50.0
	n := utf8.RuneCountInString(text)
	switch {
	case n > 100:
		score += 15
	case n > 50:
		score += 10
	case n > 20:
		score += 5
	}

	words := strings.Fields(text)
	if len(words) > 5 {
		score += 10
	}
	if strings.ContainsAny(text, ".!?") {
		score += 5
	}
	if strings.IndexFunc(text, unicode.IsUpper) >= 0 {
		score += 5
	}

	special := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	if float64(special) > 0.3*float64(n) {
		score -= 15
	}

	single := 0
	for _, w := range words {
		if utf8.RuneCountInString(w) == 1 {
			single++
		}
	}
	if len(words) > 0 && float64(single) > 0.5*float64(len(words)) {
		score -= 10
	}

	return max(0, min(100, score))
}
