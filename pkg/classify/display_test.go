package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/menta2k/xray-classifier/pkg/types"
)

func TestSortByScore_DoesNotMutateInput(t *testing.T) {
	in := []types.PredictionResult{{Label: "normal", Score: 0.2}, {Label: "fracture", Score: 0.8}}

	sorted := SortByScore(in)

	assert.Equal(t, []types.PredictionResult{{Label: "fracture", Score: 0.8}, {Label: "normal", Score: 0.2}}, sorted)
	assert.Equal(t, "normal", in[0].Label)
}

func TestTop(t *testing.T) {
	_, ok := Top(nil)
	assert.False(t, ok)

	top, ok := Top([]types.PredictionResult{{Label: "normal", Score: 0.3}, {Label: "FRACTURE", Score: 0.7}})
	assert.True(t, ok)
	assert.Equal(t, "FRACTURE", top.Label)
	assert.True(t, IsFracture(top))
	assert.False(t, IsFracture(types.PredictionResult{Label: "normal"}))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "82.0%", FormatPercent(0.82))
	assert.Equal(t, "5.6%", FormatPercent(0.0555))
	assert.Equal(t, "100.0%", FormatPercent(1))
}
