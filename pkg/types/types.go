package types

// PredictionResult is one labeled probability in the canonical result list
type PredictionResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// StructuredPrediction is the named-probability object returned by hosted apps
// and vision models. Pointers distinguish a missing field from a zero score.
type StructuredPrediction struct {
	PredictedLabel      string   `json:"predicted_label"`
	FractureProbability *float64 `json:"fracture_probability"`
	NormalProbability   *float64 `json:"normal_probability"`
}

// Payload is the adapted classification request handed to a transport
type Payload struct {
	Data      []byte
	MediaType string
	Filename  string
}

// RawResponse is the undecoded JSON a transport returns for one invocation
type RawResponse []byte

// Labels of the two clinical classes
const (
	LabelFracture = "fracture"
	LabelNormal   = "normal"
)
