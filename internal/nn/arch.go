// Package nn implements the small convolutional classifier trained by the
// pipeline: stacked 3x3 convolution, ReLU and 2x2 max-pool stages, global
// average pooling, and a linear head, with softmax cross-entropy loss and
// the Adam optimizer.
package nn

import (
	"fmt"

	"github.com/Veraticus/lookalike/internal/common"
)

// KernelSize is the side length of every convolution kernel.
const KernelSize = 3

// Arch describes the network layout. Parameter shapes are fully determined
// by it.
type Arch struct {
	Filters    []int `json:"filters"`
	InputSize  int   `json:"input_size"`
	InChannels int   `json:"in_channels"`
	Classes    int   `json:"classes"`
}

// DefaultFilters are the output channels of each convolution stage.
var DefaultFilters = []int{8, 16}

// Validate checks that every stage still has at least one pixel after
// pooling.
func (a Arch) Validate() error {
	if a.InChannels < 1 {
		return fmt.Errorf("%w: network needs at least one input channel", common.ErrInput)
	}
	if a.Classes < 1 {
		return fmt.Errorf("%w: network needs at least one class", common.ErrInput)
	}
	if len(a.Filters) == 0 {
		return fmt.Errorf("%w: network needs at least one convolution stage", common.ErrInput)
	}
	size := a.InputSize
	for i, f := range a.Filters {
		if f < 1 {
			return fmt.Errorf("%w: stage %d has no filters", common.ErrInput, i)
		}
		if size < 2 {
			return fmt.Errorf("%w: input size %d too small for %d pooling stages", common.ErrInput, a.InputSize, len(a.Filters))
		}
		size /= 2
	}
	return nil
}

// ParamShapes lists the (rows, cols) of every parameter tensor in order:
// each stage's kernel and bias, then the head's weights and bias.
func (a Arch) ParamShapes() [][2]int {
	shapes := make([][2]int, 0, 2*len(a.Filters)+2)
	in := a.InChannels
	for _, f := range a.Filters {
		shapes = append(shapes, [2]int{f, in * KernelSize * KernelSize}, [2]int{f, 1})
		in = f
	}
	shapes = append(shapes, [2]int{a.Classes, in}, [2]int{a.Classes, 1})
	return shapes
}

// ParamNames returns a stable name for every parameter tensor.
func (a Arch) ParamNames() []string {
	names := make([]string, 0, 2*len(a.Filters)+2)
	for i := range a.Filters {
		names = append(names, fmt.Sprintf("conv%d.weight", i), fmt.Sprintf("conv%d.bias", i))
	}
	return append(names, "head.weight", "head.bias")
}

// NumParams is the total number of scalar parameters.
func (a Arch) NumParams() int {
	total := 0
	for _, s := range a.ParamShapes() {
		total += s[0] * s[1]
	}
	return total
}

// InputLen is the length of one flattened CHW input.
func (a Arch) InputLen() int {
	return a.InChannels * a.InputSize * a.InputSize
}
