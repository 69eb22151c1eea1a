package training

import (
	"context"
	"math"

	"github.com/Veraticus/lookalike/internal/model"
)

// Observer receives training progress. Implementations must not block for
// long; they run on the training goroutine.
type Observer interface {
	OnBatch(ctx context.Context, progress model.BatchProgress)
	OnEpoch(ctx context.Context, metrics model.EpochMetrics)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Batch func(ctx context.Context, progress model.BatchProgress)
	Epoch func(ctx context.Context, metrics model.EpochMetrics)
}

// OnBatch implements Observer.
func (o ObserverFuncs) OnBatch(ctx context.Context, progress model.BatchProgress) {
	if o.Batch != nil {
		o.Batch(ctx, progress)
	}
}

// OnEpoch implements Observer.
func (o ObserverFuncs) OnEpoch(ctx context.Context, metrics model.EpochMetrics) {
	if o.Epoch != nil {
		o.Epoch(ctx, metrics)
	}
}

func crossEntropyFromProbs(probs []float64, label int) float64 {
	return -math.Log(math.Max(probs[label], 1e-12))
}
