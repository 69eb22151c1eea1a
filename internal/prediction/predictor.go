// Package prediction classifies single images with a trained checkpoint.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/Veraticus/lookalike/internal/checkpoint"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/nn"
	"github.com/spf13/afero"
)

// Option configures a Predictor.
type Option func(*Predictor)

// WithFs reads images from afs instead of the OS filesystem.
func WithFs(afs afero.Fs) Option {
	return func(p *Predictor) {
		if afs != nil {
			p.fs = afs
		}
	}
}

// WithLogger sets the logger used for per-class probabilities.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Predictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Predictor runs single-image inference.
type Predictor struct {
	fs     afero.Fs
	logger *slog.Logger
	ck     *checkpoint.Checkpoint
	net    *nn.Network
}

// New builds a predictor from ck. When classes is non-empty it must match the
// class index stored in the checkpoint.
func New(ck *checkpoint.Checkpoint, classes model.ClassIndex, opts ...Option) (*Predictor, error) {
	if classes.Len() > 0 {
		if err := ck.VerifyClasses(classes); err != nil {
			return nil, err
		}
	}
	net, err := ck.Network()
	if err != nil {
		return nil, err
	}

	p := &Predictor{
		fs:     afero.NewOsFs(),
		logger: slog.Default(),
		ck:     ck,
		net:    net,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Classes returns the labels the predictor chooses between.
func (p *Predictor) Classes() model.ClassIndex {
	return p.ck.Classes
}

// CheckImage reports common.ErrInput unless path names a readable regular
// file. It touches nothing but the filesystem, so callers can run it before
// loading a checkpoint.
func CheckImage(afs afero.Fs, path string) error {
	if path == "" {
		return fmt.Errorf("%w: no image path given", common.ErrInput)
	}
	info, err := afs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: image %s does not exist", common.ErrInput, path)
		}
		return fmt.Errorf("%w: cannot stat image %s: %v", common.ErrInput, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", common.ErrInput, path)
	}
	return nil
}

// Predict classifies the image at path using the checkpoint's preprocessing.
func (p *Predictor) Predict(ctx context.Context, path string) (model.PredictionResult, error) {
	if err := CheckImage(p.fs, path); err != nil {
		return model.PredictionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.PredictionResult{}, err
	}

	f, err := p.fs.Open(path)
	if err != nil {
		return model.PredictionResult{}, fmt.Errorf("%w: cannot read image %s: %v", common.ErrInput, path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	tensor, err := p.ck.Transform.Decode(f)
	if err != nil {
		return model.PredictionResult{}, fmt.Errorf("%w: %s: %w", common.ErrInput, path, err)
	}

	probs, err := p.net.Probabilities(tensor)
	if err != nil {
		return model.PredictionResult{}, fmt.Errorf("failed to run inference: %w", err)
	}

	best := nn.Argmax(probs)
	label, ok := p.ck.Classes.Name(best)
	if !ok {
		return model.PredictionResult{}, fmt.Errorf("%w: prediction index %d outside class index", common.ErrClassMismatch, best)
	}

	names := p.ck.Classes.Names()
	for i, prob := range probs {
		p.logger.Debug("Class probability", "class", names[i], "probability", fmt.Sprintf("%.4f", prob))
	}

	return model.PredictionResult{
		Label:         label,
		Confidence:    probs[best],
		Probabilities: probs,
	}, nil
}
