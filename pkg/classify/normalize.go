package classify

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/menta2k/xray-classifier/pkg/types"
)

// Normalize maps a raw remote response to the canonical result list.
//
// Label/score pairs (an array, or a single object) pass through unchanged and in
// remote order. A structured probability object becomes exactly two entries,
// fracture and normal, sorted by descending score.
func Normalize(raw types.RawResponse) ([]types.PredictionResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &MalformedResponseError{Reason: "empty response"}
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &MalformedResponseError{Reason: "invalid result list", Err: err}
		}
		if len(items) == 0 {
			return nil, &MalformedResponseError{Reason: "empty result list"}
		}
		results := make([]types.PredictionResult, 0, len(items))
		for i, item := range items {
			r, err := decodePair(item)
			if err != nil {
				return nil, &MalformedResponseError{Reason: fmt.Sprintf("result %d", i), Err: err}
			}
			results = append(results, r)
		}
		return results, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, &MalformedResponseError{Reason: "invalid object", Err: err}
		}
		if _, ok := fields["label"]; ok {
			r, err := decodePair(trimmed)
			if err != nil {
				return nil, &MalformedResponseError{Reason: "single result", Err: err}
			}
			return []types.PredictionResult{r}, nil
		}
		_, hasFracture := fields["fracture_probability"]
		_, hasNormal := fields["normal_probability"]
		if hasFracture || hasNormal {
			return decodeStructured(trimmed)
		}
		return nil, &MalformedResponseError{Reason: "unrecognized response shape"}

	default:
		return nil, &MalformedResponseError{Reason: "response is neither a list nor an object"}
	}
}

type labelScore struct {
	Label string   `json:"label"`
	Score *float64 `json:"score"`
}

func decodePair(data []byte) (types.PredictionResult, error) {
	var p labelScore
	if err := json.Unmarshal(data, &p); err != nil {
		return types.PredictionResult{}, err
	}
	if strings.TrimSpace(p.Label) == "" {
		return types.PredictionResult{}, fmt.Errorf("missing label")
	}
	if p.Score == nil {
		return types.PredictionResult{}, fmt.Errorf("missing score for %q", p.Label)
	}
	if err := checkProbability(p.Label, *p.Score); err != nil {
		return types.PredictionResult{}, err
	}
	return types.PredictionResult{Label: p.Label, Score: *p.Score}, nil
}

func decodeStructured(data []byte) ([]types.PredictionResult, error) {
	var s types.StructuredPrediction
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &MalformedResponseError{Reason: "invalid probability object", Err: err}
	}
	if s.FractureProbability == nil {
		return nil, &MalformedResponseError{Reason: "missing fracture_probability"}
	}
	if s.NormalProbability == nil {
		return nil, &MalformedResponseError{Reason: "missing normal_probability"}
	}

	results := []types.PredictionResult{
		{Label: types.LabelFracture, Score: *s.FractureProbability},
		{Label: types.LabelNormal, Score: *s.NormalProbability},
	}
	for _, r := range results {
		if err := checkProbability(r.Label, r.Score); err != nil {
			return nil, &MalformedResponseError{Reason: "probability object", Err: err}
		}
	}
	sortByScore(results)
	return results, nil
}

func checkProbability(label string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("score %v for %q outside [0,1]", score, label)
	}
	return nil
}

func sortByScore(results []types.PredictionResult) {
	slices.SortStableFunc(results, func(a, b types.PredictionResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
}
