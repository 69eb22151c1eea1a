package nn

import (
	"fmt"
	"math"

	"github.com/Veraticus/lookalike/internal/common"
)

// Adam hyperparameters other than the learning rate.
const (
	AdamBeta1   = 0.9
	AdamBeta2   = 0.999
	AdamEpsilon = 1e-8
)

// Adam is the Adam optimizer with bias correction.
type Adam struct {
	m, v         [][]float64
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	t            int
}

// NewAdam returns an optimizer with zeroed moment estimates for params.
func NewAdam(learningRate float64, params []*Param) *Adam {
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        AdamBeta1,
		Beta2:        AdamBeta2,
		Epsilon:      AdamEpsilon,
		m:            make([][]float64, len(params)),
		v:            make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.t
}

// Step applies one update to params in place.
func (a *Adam) Step(params []*Param, grads Gradients) error {
	if len(grads) != len(params) || len(params) != len(a.m) {
		return fmt.Errorf("%w: optimizer tracks %d tensors, got %d params and %d gradients",
			common.ErrInput, len(a.m), len(params), len(grads))
	}

	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		if len(g) != len(p.Data) {
			return fmt.Errorf("%w: gradient %d has %d values, parameter has %d", common.ErrInput, i, len(g), len(p.Data))
		}
		m, v := a.m[i], a.v[i]
		for j := range p.Data {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			mHat := m[j] / c1
			vHat := v[j] / c2
			p.Data[j] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
	return nil
}
