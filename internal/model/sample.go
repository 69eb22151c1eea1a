package model

// LabeledSample is one image file together with the label taken from its
// enclosing directory.
type LabeledSample struct {
	Path  string
	Label string
	// ClassID is the label's position in the ClassIndex the sample was
	// discovered with.
	ClassID int
}

// LabelCount summarizes how many samples of one label went where.
type LabelCount struct {
	Label string `json:"label"`
	Total int    `json:"total"`
	Train int    `json:"train"`
	Val   int    `json:"val"`
}

// PredictionResult is the top-1 answer for a single image.
type PredictionResult struct {
	Label      string
	Confidence float64
	// Probabilities holds the softmax output in ClassIndex order.
	Probabilities []float64
}
