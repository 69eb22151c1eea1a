package nn

import (
	"fmt"

	"github.com/Veraticus/lookalike/internal/common"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Network is the classifier. Forward passes only read the parameters, so
// any number of goroutines may run them concurrently as long as no Adam
// step is in progress.
type Network struct {
	params []*Param
	arch   Arch
}

// New builds a network with He-initialized weights drawn from seed.
func New(arch Arch, seed int64) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	params := newParams(arch)
	heInit(params, seed)
	return &Network{arch: arch, params: params}, nil
}

// FromParams builds a network around existing weights, which must match the
// shapes arch calls for.
func FromParams(arch Arch, params []*Param) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if err := checkShapes(arch, params); err != nil {
		return nil, err
	}
	return &Network{arch: arch, params: params}, nil
}

// Arch returns the network layout.
func (n *Network) Arch() Arch {
	return n.arch
}

// Params returns the live parameter tensors.
func (n *Network) Params() []*Param {
	return n.params
}

type stageTrace struct {
	col     *mat.Dense
	pre     []float64
	poolIdx []int
	inC     int
	h, w    int
}

type trace struct {
	stages []stageTrace
	feat   []float64
	logits []float64
	// finalH and finalW are the spatial dims of the last pooled map.
	finalH, finalW int
}

// Logits runs a forward pass for one CHW input.
func (n *Network) Logits(x []float64) ([]float64, error) {
	tr, err := n.forward(x)
	if err != nil {
		return nil, err
	}
	return tr.logits, nil
}

// Probabilities runs a forward pass and applies softmax.
func (n *Network) Probabilities(x []float64) ([]float64, error) {
	logits, err := n.Logits(x)
	if err != nil {
		return nil, err
	}
	return Softmax(logits), nil
}

func (n *Network) forward(x []float64) (*trace, error) {
	if len(x) != n.arch.InputLen() {
		return nil, fmt.Errorf("%w: input has %d values, network expects %d", common.ErrInput, len(x), n.arch.InputLen())
	}

	tr := &trace{stages: make([]stageTrace, len(n.arch.Filters))}
	in := x
	c, h, w := n.arch.InChannels, n.arch.InputSize, n.arch.InputSize

	for s, filters := range n.arch.Filters {
		weights := n.params[2*s].Matrix()
		bias := n.params[2*s+1].Data

		col := im2col(in, c, h, w)
		out := mat.NewDense(filters, h*w, nil)
		out.Mul(weights, col)

		pre := out.RawMatrix().Data
		plane := h * w
		for f := 0; f < filters; f++ {
			row := pre[f*plane : (f+1)*plane]
			for i := range row {
				row[i] += bias[f]
			}
		}

		act := make([]float64, len(pre))
		for i, v := range pre {
			if v > 0 {
				act[i] = v
			}
		}

		pooled, idx, ph, pw := maxPool(act, filters, h, w)

		tr.stages[s] = stageTrace{col: col, pre: pre, poolIdx: idx, inC: c, h: h, w: w}
		in = pooled
		c, h, w = filters, ph, pw
	}

	// Global average pooling.
	plane := h * w
	feat := make([]float64, c)
	for ch := 0; ch < c; ch++ {
		feat[ch] = floats.Sum(in[ch*plane:(ch+1)*plane]) / float64(plane)
	}

	head := n.params[len(n.params)-2]
	headBias := n.params[len(n.params)-1].Data
	logits := make([]float64, head.Rows)
	lv := mat.NewVecDense(head.Rows, logits)
	lv.MulVec(head.Matrix(), mat.NewVecDense(len(feat), feat))
	floats.Add(logits, headBias)

	tr.feat = feat
	tr.logits = logits
	tr.finalH, tr.finalW = h, w
	return tr, nil
}

// backward returns the gradient of the loss with respect to every parameter
// given the gradient with respect to the logits.
func (n *Network) backward(tr *trace, dlogits []float64) Gradients {
	grads := NewGradients(n.arch)
	last := len(n.params) - 2
	head := n.params[last]

	// Head: logits = W feat + b.
	dW := mat.NewDense(head.Rows, head.Cols, grads[last])
	dW.Outer(1, mat.NewVecDense(len(dlogits), dlogits), mat.NewVecDense(len(tr.feat), tr.feat))
	copy(grads[last+1], dlogits)

	dfeat := mat.NewVecDense(head.Cols, nil)
	dfeat.MulVec(head.Matrix().T(), mat.NewVecDense(len(dlogits), dlogits))

	// Global average pooling spreads each channel's gradient evenly.
	plane := tr.finalH * tr.finalW
	dpooled := make([]float64, head.Cols*plane)
	for ch := 0; ch < head.Cols; ch++ {
		g := dfeat.AtVec(ch) / float64(plane)
		for i := 0; i < plane; i++ {
			dpooled[ch*plane+i] = g
		}
	}

	for s := len(n.arch.Filters) - 1; s >= 0; s-- {
		st := tr.stages[s]
		filters := n.arch.Filters[s]
		area := st.h * st.w

		dpre := make([]float64, filters*area)
		for j, src := range st.poolIdx {
			dpre[src] += dpooled[j]
		}
		for i, v := range st.pre {
			if v <= 0 {
				dpre[i] = 0
			}
		}

		dOut := mat.NewDense(filters, area, dpre)

		kernel := mat.NewDense(filters, st.inC*KernelSize*KernelSize, grads[2*s])
		kernel.Mul(dOut, st.col.T())
		for f := 0; f < filters; f++ {
			grads[2*s+1][f] = floats.Sum(dpre[f*area : (f+1)*area])
		}

		if s == 0 {
			break
		}
		var dcol mat.Dense
		dcol.Mul(n.params[2*s].Matrix().T(), dOut)
		dpooled = col2im(&dcol, st.inC, st.h, st.w)
	}

	return grads
}

// im2col lays out every 3x3 zero-padded neighborhood of a CHW input as a
// column. Row ci*9+ky*3+kx, column y*w+x holds input[ci][y+ky-1][x+kx-1].
func im2col(in []float64, c, h, w int) *mat.Dense {
	k := KernelSize * KernelSize
	data := make([]float64, c*k*h*w)
	cols := h * w
	for ci := 0; ci < c; ci++ {
		for ky := 0; ky < KernelSize; ky++ {
			for kx := 0; kx < KernelSize; kx++ {
				row := (ci*k + ky*KernelSize + kx) * cols
				for y := 0; y < h; y++ {
					sy := y + ky - 1
					if sy < 0 || sy >= h {
						continue
					}
					for x := 0; x < w; x++ {
						sx := x + kx - 1
						if sx < 0 || sx >= w {
							continue
						}
						data[row+y*w+x] = in[ci*h*w+sy*w+sx]
					}
				}
			}
		}
	}
	return mat.NewDense(c*k, cols, data)
}

// col2im is the adjoint of im2col: it sums every column entry back onto the
// input position it was copied from.
func col2im(col *mat.Dense, c, h, w int) []float64 {
	k := KernelSize * KernelSize
	out := make([]float64, c*h*w)
	raw := col.RawMatrix()
	for ci := 0; ci < c; ci++ {
		for ky := 0; ky < KernelSize; ky++ {
			for kx := 0; kx < KernelSize; kx++ {
				row := raw.Data[(ci*k+ky*KernelSize+kx)*raw.Stride:]
				for y := 0; y < h; y++ {
					sy := y + ky - 1
					if sy < 0 || sy >= h {
						continue
					}
					for x := 0; x < w; x++ {
						sx := x + kx - 1
						if sx < 0 || sx >= w {
							continue
						}
						out[ci*h*w+sy*w+sx] += row[y*w+x]
					}
				}
			}
		}
	}
	return out
}

// maxPool applies 2x2 max pooling with stride 2, dropping a trailing odd row
// or column. idx records the flat source position of each output.
func maxPool(in []float64, c, h, w int) (out []float64, idx []int, ph, pw int) {
	ph, pw = h/2, w/2
	out = make([]float64, c*ph*pw)
	idx = make([]int, c*ph*pw)
	for ch := 0; ch < c; ch++ {
		base := ch * h * w
		for py := 0; py < ph; py++ {
			for px := 0; px < pw; px++ {
				best := base + 2*py*w + 2*px
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						i := base + (2*py+dy)*w + 2*px + dx
						if in[i] > in[best] {
							best = i
						}
					}
				}
				o := ch*ph*pw + py*pw + px
				out[o] = in[best]
				idx[o] = best
			}
		}
	}
	return out, idx, ph, pw
}
