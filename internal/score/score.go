// Package score derives the 0-100 teacher score from narratives and raw averages.
package score

import (
	"evalboard/internal/core"
	"math"
	"regexp"
	"strconv"
)

// Placeholder is rendered when no score can be extracted.
const Placeholder = "??"

var scorePattern = regexp.MustCompile(`(?i)(\d+)/100|(\d+)\s*/\s*100|(\d+)\s*puan`)

// Extract finds an embedded "<n>/100" or "<n> puan" score in narrative text.
// The first non-empty capture group wins; a value above 100 counts as absent.
func Extract(text string) (int, bool) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		v, err := strconv.Atoi(g)
		if err != nil || v > 100 {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// Display returns the extracted score as text, or Placeholder when absent.
func Display(text string) string {
	if v, ok := Extract(text); ok {
		return strconv.Itoa(v)
	}
	return Placeholder
}

// FromAverages rescales the five criterion averages (total out of 50) to [0,100].
func FromAverages(avgs core.CriterionAverages) int {
	return int(math.Round(avgs.Total() / 50 * 100))
}

// FromEvaluations is FromAverages over raw records. It returns false for an empty set.
func FromEvaluations(evals []core.Evaluation) (int, bool) {
	avgs, ok := core.Averages(evals)
	if !ok {
		return 0, false
	}
	return FromAverages(avgs), true
}
