package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Veraticus/lookalike/internal/common"
	"gonum.org/v1/gonum/mat"
)

// Param is one named parameter tensor stored row-major.
type Param struct {
	Name string
	Data []float64
	Rows int
	Cols int
}

// Matrix returns a matrix view sharing the parameter's storage.
func (p *Param) Matrix() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Data)
}

// Gradients holds one slice per parameter, in parameter order.
type Gradients [][]float64

// NewGradients allocates zeroed gradients shaped like arch's parameters.
func NewGradients(arch Arch) Gradients {
	shapes := arch.ParamShapes()
	grads := make(Gradients, len(shapes))
	for i, s := range shapes {
		grads[i] = make([]float64, s[0]*s[1])
	}
	return grads
}

func newParams(arch Arch) []*Param {
	shapes := arch.ParamShapes()
	names := arch.ParamNames()
	params := make([]*Param, len(shapes))
	for i, s := range shapes {
		params[i] = &Param{
			Name: names[i],
			Rows: s[0],
			Cols: s[1],
			Data: make([]float64, s[0]*s[1]),
		}
	}
	return params
}

// heInit fills weights from N(0, 2/fanIn) and leaves biases at zero.
func heInit(params []*Param, seed int64) {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible init, not security sensitive
	for _, p := range params {
		if p.Cols == 1 {
			continue
		}
		std := math.Sqrt(2.0 / float64(p.Cols))
		for i := range p.Data {
			p.Data[i] = rng.NormFloat64() * std
		}
	}
}

func checkShapes(arch Arch, params []*Param) error {
	shapes := arch.ParamShapes()
	if len(params) != len(shapes) {
		return fmt.Errorf("%w: expected %d parameter tensors, got %d", common.ErrClassMismatch, len(shapes), len(params))
	}
	for i, s := range shapes {
		p := params[i]
		if p.Rows != s[0] || p.Cols != s[1] || len(p.Data) != s[0]*s[1] {
			return fmt.Errorf("%w: parameter %d has shape %dx%d, expected %dx%d",
				common.ErrClassMismatch, i, p.Rows, p.Cols, s[0], s[1])
		}
	}
	return nil
}
