// Package preprocess turns decoded images into normalized network input.
package preprocess

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/Veraticus/lookalike/internal/common"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Channels is the number of color channels fed to the network.
const Channels = 3

// Transform resizes an image to Size x Size RGB and normalizes every channel
// with (v - Mean) / Std, where v is the channel intensity in [0, 1]. The same
// value is used at training, evaluation and prediction time.
type Transform struct {
	Mean [Channels]float64 `json:"mean"`
	Std  [Channels]float64 `json:"std"`
	Size int               `json:"size"`
}

// Default returns the standard transform for the given side length.
func Default(size int) Transform {
	return Transform{
		Size: size,
		Mean: [Channels]float64{0.5, 0.5, 0.5},
		Std:  [Channels]float64{0.5, 0.5, 0.5},
	}
}

// Validate checks that the transform can be applied.
func (t Transform) Validate() error {
	if t.Size < 1 {
		return fmt.Errorf("%w: transform size must be positive", common.ErrInput)
	}
	for c := 0; c < Channels; c++ {
		if t.Std[c] == 0 {
			return fmt.Errorf("%w: transform std for channel %d is zero", common.ErrInput, c)
		}
	}
	return nil
}

// TensorLen is the number of values in one transformed image.
func (t Transform) TensorLen() int {
	return Channels * t.Size * t.Size
}

// Shape returns the channel, height and width of a transformed image.
func (t Transform) Shape() [3]int {
	return [3]int{Channels, t.Size, t.Size}
}

// Decode reads an image from r and applies the transform.
func (t Transform) Decode(r io.Reader) ([]float64, error) {
	img, format, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("failed to decode image: empty %s image", format)
	}
	return t.Apply(img), nil
}

// Apply resizes img with bilinear interpolation and returns the normalized
// tensor in channel-major (CHW) order.
func (t Transform) Apply(img image.Image) []float64 {
	dst := image.NewRGBA(image.Rect(0, 0, t.Size, t.Size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := t.Size * t.Size
	out := make([]float64, Channels*plane)
	for y := 0; y < t.Size; y++ {
		for x := 0; x < t.Size; x++ {
			// RGBA is premultiplied, so transparent pixels land on black.
			px := dst.RGBAAt(x, y)
			rgb := [Channels]uint8{px.R, px.G, px.B}
			i := y*t.Size + x
			for c := 0; c < Channels; c++ {
				v := float64(rgb[c]) / 255.0
				out[c*plane+i] = (v - t.Mean[c]) / t.Std[c]
			}
		}
	}
	return out
}
