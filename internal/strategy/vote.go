package strategy

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"ocrpipe/pkg/models"
)

// Selection weights
const (
	WeightConfidence = 0.4
	WeightLength     = 0.2
	WeightAgreement  = 0.4
	lengthSaturation = 200
	maxCommonWords   = 50
)

// Vote scores every candidate as
//
//	0.4*confidence + 0.2*min(100, 100*len/200) + 0.4*agreement
//
// where agreement is 100 times the mean Jaccard overlap of its word set with
// every other candidate. Candidates are visited in attempt order and only a
// strictly higher score replaces the leader, so ties go to the earlier attempt.
func Vote(cands []Candidate) (Candidate, *models.VotingAnalysis) {
	if len(cands) == 0 {
		return Candidate{}, nil
	}
	ordered := make([]Candidate, len(cands))
	copy(ordered, cands)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	sets := make([]map[string]struct{}, len(ordered))
	for i, c := range ordered {
		sets[i] = wordSet(c.Text)
	}

	analysis := &models.VotingAnalysis{Scores: make([]models.CandidateScore, 0, len(ordered))}
	bestIdx, bestScore := -1, 0.0
	for i, c := range ordered {
		length := min(100, 100*float64(utf8.RuneCountInString(c.Text))/lengthSaturation)
		agreement := 0.0
		if len(ordered) > 1 {
			var sum float64
			for j := range ordered {
				if j != i {
					sum += jaccard(sets[i], sets[j])
				}
			}
			agreement = 100 * sum / float64(len(ordered)-1)
		}
		total := WeightConfidence*c.Confidence + WeightLength*length + WeightAgreement*agreement
		analysis.Scores = append(analysis.Scores, models.CandidateScore{
			Strategy:       c.Strategy,
			Confidence:     round2(c.Confidence),
			LengthScore:    round2(length),
			AgreementScore: round2(agreement),
			Total:          round2(total),
		})
		if bestIdx < 0 || total > bestScore {
			bestIdx, bestScore = i, total
		}
	}

	analysis.Winner = ordered[bestIdx].Strategy
	analysis.CommonWords = commonWords(sets)
	return ordered[bestIdx], analysis
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard is |a∩b| / |a∪b|, or 0 when both are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// commonWords counts, for every word, the candidates containing it and keeps
// words seen in at least two.
func commonWords(sets []map[string]struct{}) map[string]int {
	counts := make(map[string]int)
	for _, s := range sets {
		for w := range s {
			counts[w]++
		}
	}
	type wc struct {
		word  string
		count int
	}
	var shared []wc
	for w, n := range counts {
		if n >= 2 {
			shared = append(shared, wc{w, n})
		}
	}
	if len(shared) == 0 {
		return nil
	}
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].count != shared[j].count {
			return shared[i].count > shared[j].count
		}
		return shared[i].word < shared[j].word
	})
	if len(shared) > maxCommonWords {
		shared = shared[:maxCommonWords]
	}
	out := make(map[string]int, len(shared))
	for _, s := range shared {
		out[s.word] = s.count
	}
	return out
}

// ConfidenceStats returns the mean, max and min candidate confidence.
func ConfidenceStats(cands []Candidate) (avg, hi, lo float64) {
	if len(cands) == 0 {
		return 0, 0, 0
	}
	hi, lo = cands[0].Confidence, cands[0].Confidence
	var sum float64
	for _, c := range cands {
		sum += c.Confidence
		hi = max(hi, c.Confidence)
		lo = min(lo, c.Confidence)
	}
	return sum / float64(len(cands)), hi, lo
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
