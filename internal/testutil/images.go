// Package testutil provides test fixtures for the lookalike pipeline: synthetic
// image corpora on any afero filesystem and an isolated run registry.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

// Palette holds the fill color used for each synthetic label.
var Palette = map[string]color.RGBA{
	"a":    {R: 220, G: 30, B: 30, A: 255},
	"b":    {R: 30, G: 30, B: 220, A: 255},
	"cats": {R: 200, G: 160, B: 40, A: 255},
	"dogs": {R: 40, G: 120, B: 200, A: 255},
}

// PNG encodes a size x size image filled with c. Pixels are jittered by a
// small deterministic pattern so images of the same color still differ.
func PNG(t *testing.T, c color.RGBA, size, variant int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			j := uint8((x*7 + y*13 + variant*31) % 17)
			img.SetRGBA(x, y, color.RGBA{
				R: jitter(c.R, j),
				G: jitter(c.G, j),
				B: jitter(c.B, j),
				A: c.A,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func jitter(v, j uint8) uint8 {
	if v > 127 {
		return v - j
	}
	return v + j
}

// WriteImage writes a synthetic PNG for label at path.
func WriteImage(t *testing.T, fs afero.Fs, path, label string, size, variant int) {
	t.Helper()

	c, ok := Palette[label]
	if !ok {
		c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}
	WriteFile(t, fs, path, PNG(t, c, size, variant))
}

// WriteCorrupt writes bytes that no image decoder accepts.
func WriteCorrupt(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	WriteFile(t, fs, path, []byte("this is not an image"))
}

// WriteFile writes data at path, creating parent directories.
func WriteFile(t *testing.T, fs afero.Fs, path string, data []byte) {
	t.Helper()

	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// Corpus describes a labeled image tree to generate.
type Corpus struct {
	// Counts is the number of valid images per label.
	Counts map[string]int
	// Corrupt is the number of undecodable files per label.
	Corrupt map[string]int
	// Size is the side length of generated images. Zero means 16.
	Size int
}

// BuildCorpus writes root/<label>/<label>_NNN.png files. Corrupt files are
// named 0corrupt_<label>_NN.png so they sort before the valid ones.
func BuildCorpus(t *testing.T, fs afero.Fs, root string, corpus Corpus) {
	t.Helper()

	size := corpus.Size
	if size == 0 {
		size = 16
	}

	for label, n := range corpus.Counts {
		if err := fs.MkdirAll(filepath.Join(root, label), 0o750); err != nil {
			t.Fatalf("failed to create label dir: %v", err)
		}
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("%s_%03d.png", label, i)
			WriteImage(t, fs, filepath.Join(root, label, name), label, size, i)
		}
	}
	for label, n := range corpus.Corrupt {
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("0corrupt_%s_%02d.png", label, i)
			WriteCorrupt(t, fs, filepath.Join(root, label, name))
		}
	}
}
