// Package evaluation scores a trained checkpoint against a labeled image
// source and renders the confusion matrix.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/lookalike/internal/checkpoint"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/imagefolder"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/nn"
	"github.com/spf13/afero"
)

// DefaultPlotPath is where the confusion matrix image is written.
const DefaultPlotPath = "confusion_matrix.png"

// Options configures an Evaluator.
type Options struct {
	Fs     afero.Fs
	Logger *slog.Logger
	Device nn.Device
	// PlotPath receives the confusion matrix heat map. Empty disables it.
	PlotPath  string
	BatchSize int
	Workers   int
}

// DefaultOptions evaluates on the CPU and writes the plot to the working
// directory.
func DefaultOptions() Options {
	return Options{
		Fs:        afero.NewOsFs(),
		Device:    nn.CPU{},
		PlotPath:  DefaultPlotPath,
		BatchSize: 32,
		Workers:   4,
	}
}

// Evaluator runs inference-only passes over a source.
type Evaluator struct {
	logger *slog.Logger
	opts   Options
}

// NewEvaluator fills unset options with their defaults.
func NewEvaluator(opts Options) *Evaluator {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Device == nil {
		opts.Device = nn.CPU{}
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 32
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{opts: opts, logger: logger}
}

// Evaluate predicts every decodable sample of val in source order and
// returns the classification report along with the raw confusion matrix.
// classes must match both the checkpoint and the source; a mismatch is
// reported before any image is decoded.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	val *imagefolder.Source,
	ck *checkpoint.Checkpoint,
	classes model.ClassIndex,
) (*model.ClassificationReport, *model.ConfusionMatrix, error) {
	if err := ck.VerifyClasses(classes); err != nil {
		return nil, nil, err
	}
	if err := model.CheckClasses("evaluation source", classes, val.Classes()); err != nil {
		return nil, nil, err
	}
	if val.Transform() != ck.Transform {
		return nil, nil, fmt.Errorf("%w: evaluation source preprocessing differs from the checkpoint", common.ErrInput)
	}

	net, err := ck.Network()
	if err != nil {
		return nil, nil, err
	}

	it, err := val.Batches(ctx, imagefolder.Identity(val.Len()), e.opts.BatchSize, e.opts.Workers)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	matrix := model.NewConfusionMatrix(classes)
	for {
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load evaluation batch: %w", err)
		}

		inputs := make([][]float64, len(batch.Samples))
		for i, s := range batch.Samples {
			inputs[i] = s.Tensor
		}
		probs, err := e.opts.Device.Infer(ctx, net, inputs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to run inference on batch %d: %w", batch.Number, err)
		}
		for i, p := range probs {
			if err := matrix.Add(batch.Samples[i].Label, nn.Argmax(p)); err != nil {
				return nil, nil, err
			}
		}
	}

	report := matrix.Report()
	e.logger.Info("Evaluation complete",
		"samples", report.Total,
		"skipped", it.Skipped(),
		"accuracy", fmt.Sprintf("%.4f", report.Accuracy))

	if e.opts.PlotPath != "" {
		if err := SavePlot(e.opts.Fs, e.opts.PlotPath, func(w io.Writer) error {
			return RenderConfusion(w, matrix)
		}); err != nil {
			return report, matrix, err
		}
		e.logger.Info("Confusion matrix saved", "path", e.opts.PlotPath)
	}

	return report, matrix, nil
}
