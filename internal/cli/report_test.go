package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confusion(t *testing.T) *model.ConfusionMatrix {
	t.Helper()
	classes, err := model.NewClassIndex([]string{"cats", "dogs"})
	require.NoError(t, err)
	m := model.NewConfusionMatrix(classes)
	for i := 0; i < 8; i++ {
		require.NoError(t, m.Add(0, 0))
	}
	require.NoError(t, m.Add(0, 1))
	require.NoError(t, m.Add(1, 1))
	return m
}

func TestWriteClassificationReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteClassificationReport(&buf, confusion(t).Report()))

	out := buf.String()
	for _, want := range []string{"precision", "recall", "f1-score", "support", "cats", "dogs", "accuracy", "macro avg", "weighted avg"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "0.90")
}

func TestWriteConfusionMatrix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteConfusionMatrix(&buf, confusion(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"cats", "8", "1"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"dogs", "0", "1"}, strings.Fields(lines[2]))
}

func TestWriteRuns(t *testing.T) {
	classes, err := model.NewClassIndex([]string{"cats", "dogs"})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{
			ID:            "run-new",
			StartedAt:     now.Add(-2 * time.Hour),
			Status:        model.RunStatusCompleted,
			Device:        "cpu",
			Classes:       classes,
			Params:        model.Hyperparameters{Epochs: 10},
			FinalLoss:     0.1234,
			FinalAccuracy: 0.9,
		},
		{
			ID:        "run-old",
			StartedAt: now.Add(-3 * 24 * time.Hour),
			Status:    model.RunStatusFailed,
			Device:    "parallel",
			Classes:   classes,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRuns(&buf, runs, now))

	out := buf.String()
	assert.Contains(t, out, "run-new")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "0.1234")
	assert.Contains(t, out, "90.00%")
	assert.Contains(t, out, "cats,dogs")
	assert.Contains(t, out, "3 days ago")
}

func TestFormatPrediction(t *testing.T) {
	got := FormatPrediction(model.PredictionResult{Label: "dogs", Confidence: 0.97123})
	assert.Equal(t, "Predicted: dogs (97.12% confidence)", got)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(-1))
	assert.Equal(t, "1.5 kB", FormatSize(1500))
}

func TestTrainingProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewTrainingProgress(&buf, 2)
	ctx := context.Background()

	for b := 1; b <= 3; b++ {
		p.OnBatch(ctx, model.BatchProgress{Epoch: 1, Batch: b, TotalBatches: 3, AvgLoss: 0.5, Accuracy: 0.75, Last: b == 3})
	}
	p.OnEpoch(ctx, model.EpochMetrics{
		Epoch:         1,
		Loss:          0.5,
		Accuracy:      0.75,
		Samples:       12,
		Skipped:       1,
		HasValidation: true,
		ValLoss:       0.4,
		ValAccuracy:   0.8,
	})
	assert.Nil(t, p.bar)

	out := buf.String()
	assert.Contains(t, out, "Epoch 1/2: loss 0.5000, accuracy 75.00% (12 samples")
	assert.Contains(t, out, "1 skipped")
	assert.Contains(t, out, "val accuracy 80.00%")
}

func TestWriteEpochs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEpochs(&buf, []model.EpochMetrics{
		{Epoch: 1, Loss: 0.69, Accuracy: 0.5, Samples: 20, Duration: 1500 * time.Millisecond},
		{Epoch: 2, Loss: 0.41, Accuracy: 0.85, Samples: 20, Skipped: 2, HasValidation: true, ValLoss: 0.45, ValAccuracy: 0.8},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"1", "0.6900", "50.00%", "20", "0", "-", "-", "1.5s"}, strings.Fields(lines[1]))
	assert.Contains(t, lines[2], "80.00%")
	assert.Contains(t, lines[2], "0.4500")
}

func TestWriteEvaluations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteEvaluations(&buf, []model.Evaluation{
		{ID: 7, CreatedAt: now.Add(-time.Minute), Accuracy: 0.875, Samples: 40, CheckpointPath: "model.ckpt"},
	}, now))

	out := buf.String()
	assert.Contains(t, out, "87.50%")
	assert.Contains(t, out, "1 minute ago")
	assert.Contains(t, out, "model.ckpt")
}
