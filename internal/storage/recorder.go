package storage

import (
	"context"
	"log/slog"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/service"
)

// RunRecorder writes every finished epoch of a training run to a registry.
// It satisfies training.Observer. Registry failures are logged and never
// interrupt training.
type RunRecorder struct {
	registry service.RunRegistry
	logger   *slog.Logger
	runID    string
}

// NewRunRecorder returns a recorder for the run with the given ID.
func NewRunRecorder(registry service.RunRegistry, runID string, logger *slog.Logger) *RunRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRecorder{registry: registry, runID: runID, logger: logger}
}

// OnBatch does nothing; only epochs are recorded.
func (r *RunRecorder) OnBatch(context.Context, model.BatchProgress) {}

// OnEpoch records m.
func (r *RunRecorder) OnEpoch(ctx context.Context, m model.EpochMetrics) {
	if err := r.registry.RecordEpoch(ctx, r.runID, m); err != nil {
		r.logger.Warn("Failed to record epoch in run registry",
			"run_id", r.runID,
			"epoch", m.Epoch,
			"error", err)
	}
}
