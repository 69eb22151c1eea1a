package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax returns exp(z_i) / sum_j exp(z_j), computed after subtracting the
// maximum for numerical stability.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	top := floats.Max(logits)
	for i, z := range logits {
		out[i] = math.Exp(z - top)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// CrossEntropy returns the loss -log(p[label]) of one sample together with
// the gradient of that loss with respect to the logits, scaled by scale.
func CrossEntropy(logits []float64, label int, scale float64) (loss float64, dlogits []float64) {
	probs := Softmax(logits)
	p := math.Max(probs[label], 1e-12)
	loss = -math.Log(p)

	dlogits = probs
	dlogits[label]--
	floats.Scale(scale, dlogits)
	return loss, dlogits
}

// Argmax returns the index of the largest value, preferring the lowest index
// on ties.
func Argmax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}
