package classify

import (
	"fmt"
	"strings"

	"github.com/menta2k/xray-classifier/pkg/types"
)

// SortByScore returns a copy of results ordered by descending score.
// Pass-through responses keep remote order, so display code sorts again here.
func SortByScore(results []types.PredictionResult) []types.PredictionResult {
	sorted := make([]types.PredictionResult, len(results))
	copy(sorted, results)
	sortByScore(sorted)
	return sorted
}

// Top returns the highest scoring result
func Top(results []types.PredictionResult) (types.PredictionResult, bool) {
	if len(results) == 0 {
		return types.PredictionResult{}, false
	}
	return SortByScore(results)[0], true
}

// IsFracture compares the label case-insensitively against the fracture class
func IsFracture(r types.PredictionResult) bool {
	return strings.EqualFold(strings.TrimSpace(r.Label), types.LabelFracture)
}

// FormatPercent renders a probability with one decimal, e.g. 0.823 -> "82.3%"
func FormatPercent(score float64) string {
	return fmt.Sprintf("%.1f%%", score*100)
}
