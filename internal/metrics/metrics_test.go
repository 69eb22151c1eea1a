package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Training(t *testing.T) {
	p := NewPrometheusMetrics()
	ctx := context.Background()

	p.OnBatch(ctx, model.BatchProgress{Epoch: 1, Batch: 1, Loss: 0.9, Duration: 20 * time.Millisecond})
	p.OnBatch(ctx, model.BatchProgress{Epoch: 1, Batch: 2, Loss: 0.7, Duration: 30 * time.Millisecond})
	p.OnEpoch(ctx, model.EpochMetrics{Epoch: 1, Loss: 0.8, Accuracy: 0.55, Samples: 64, HasValidation: true, ValLoss: 0.75})

	assert.InDelta(t, 0.7, testutil.ToFloat64(p.BatchLoss), 1e-12)
	assert.InDelta(t, 2, testutil.ToFloat64(p.Batches), 1e-12)
	assert.InDelta(t, 64, testutil.ToFloat64(p.Samples), 1e-12)
	assert.InDelta(t, 1, testutil.ToFloat64(p.CurrentEpoch), 1e-12)
	assert.InDelta(t, 0.8, testutil.ToFloat64(p.EpochLoss.WithLabelValues("1")), 1e-12)
	assert.InDelta(t, 0.55, testutil.ToFloat64(p.EpochAccuracy.WithLabelValues("1")), 1e-12)
	assert.InDelta(t, 0.75, testutil.ToFloat64(p.ValidationLoss.WithLabelValues("1")), 1e-12)
	assert.Equal(t, 1, testutil.CollectAndCount(p.BatchDuration))
}

func TestPrometheus_SkipsAndPredictions(t *testing.T) {
	p := NewPrometheusMetrics()

	p.OnSkip(3, "/data/a/broken.jpg", errors.New("bad header"))
	p.OnSkip(9, "/data/b/broken.jpg", errors.New("bad header"))
	p.OnPrediction(model.PredictionResult{Label: "cats", Confidence: 0.9})
	p.OnEvaluation(&model.ClassificationReport{Accuracy: 0.875})

	assert.InDelta(t, 2, testutil.ToFloat64(p.Skipped), 1e-12)
	assert.InDelta(t, 1, testutil.ToFloat64(p.Predictions.WithLabelValues("cats")), 1e-12)
	assert.InDelta(t, 0.875, testutil.ToFloat64(p.EvalAccuracy), 1e-12)
}

func TestPrometheus_WriteTextfile(t *testing.T) {
	p := NewPrometheusMetrics()
	p.OnBatch(context.Background(), model.BatchProgress{Loss: 0.5})

	path := filepath.Join(t.TempDir(), "lookalike.prom")
	require.NoError(t, p.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lookalike_train_batch_loss 0.5")
	assert.Contains(t, string(data), "lookalike_train_batches_total 1")
}
