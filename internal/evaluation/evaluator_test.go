package evaluation

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"log/slog"
	"strings"
	"testing"

	"github.com/Veraticus/lookalike/internal/checkpoint"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/imagefolder"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/nn"
	"github.com/Veraticus/lookalike/internal/preprocess"
	"github.com/Veraticus/lookalike/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckpoint(t *testing.T, names ...string) *checkpoint.Checkpoint {
	t.Helper()
	classes, err := model.NewClassIndex(names)
	require.NoError(t, err)
	net, err := nn.New(nn.Arch{InputSize: 8, InChannels: 3, Filters: []int{2}, Classes: classes.Len()}, 3)
	require.NoError(t, err)
	ck, err := checkpoint.New(net, classes, preprocess.Default(8), "run-eval")
	require.NoError(t, err)
	return ck
}

func openSource(t *testing.T, fs afero.Fs, root string, logger *slog.Logger) *imagefolder.Source {
	t.Helper()
	src, err := imagefolder.Open(fs, root, preprocess.Default(8), imagefolder.WithLogger(logger))
	require.NoError(t, err)
	return src
}

func TestEvaluate_RowSumsMatchDecodedSamples(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.BuildCorpus(t, fs, "/val", testutil.Corpus{Counts: map[string]int{"a": 4, "b": 7}, Size: 8})
	src := openSource(t, fs, "/val", slog.Default())
	ck := newCheckpoint(t, "a", "b")

	ev := NewEvaluator(Options{Fs: fs, Device: nn.CPU{}, BatchSize: 3, Workers: 2, PlotPath: "/out/confusion_matrix.png"})
	report, matrix, err := ev.Evaluate(context.Background(), src, ck, src.Classes())
	require.NoError(t, err)

	assert.Equal(t, 4, matrix.RowSum(0))
	assert.Equal(t, 7, matrix.RowSum(1))
	assert.Equal(t, 11, report.Total)
	assert.InDelta(t, float64(matrix.Correct())/11, report.Accuracy, 1e-12)
	require.Len(t, report.Classes, 2)
	assert.Equal(t, 4, report.Classes[0].Support)

	f, err := fs.Open("/out/confusion_matrix.png")
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestEvaluate_SkipsCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.BuildCorpus(t, fs, "/val", testutil.Corpus{
		Counts:  map[string]int{"a": 5, "b": 4},
		Corrupt: map[string]int{"a": 1},
		Size:    8,
	})
	var buf bytes.Buffer
	src := openSource(t, fs, "/val", slog.New(slog.NewTextHandler(&buf, nil)))
	ck := newCheckpoint(t, "a", "b")

	ev := NewEvaluator(Options{Fs: fs, BatchSize: 4})
	report, matrix, err := ev.Evaluate(context.Background(), src, ck, src.Classes())
	require.NoError(t, err)

	assert.Equal(t, 9, report.Total)
	assert.Equal(t, 5, matrix.RowSum(0))
	assert.Equal(t, 1, strings.Count(buf.String(), "Skipping corrupted image"))
}

func TestEvaluate_LeadingCorruptFile(t *testing.T) {
	// One corrupt file sorted ahead of nine valid files of the same label.
	fs := afero.NewMemMapFs()
	testutil.BuildCorpus(t, fs, "/val", testutil.Corpus{
		Counts:  map[string]int{"a": 9},
		Corrupt: map[string]int{"a": 1},
		Size:    8,
	})
	ck := newCheckpoint(t, "a", "b")

	var buf bytes.Buffer
	src, err := imagefolder.Open(fs, "/val", preprocess.Default(8),
		imagefolder.WithClassIndex(ck.Classes),
		imagefolder.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	require.NoError(t, err)
	require.Equal(t, 10, src.Len())
	first, _ := src.Entry(0)
	require.Contains(t, first.Path, "corrupt")

	ev := NewEvaluator(Options{Fs: fs, BatchSize: 4, Workers: 2})
	report, matrix, err := ev.Evaluate(context.Background(), src, ck, ck.Classes)
	require.NoError(t, err)

	assert.Equal(t, 9, report.Total)
	assert.Equal(t, 9, matrix.RowSum(0))
	assert.Equal(t, 0, matrix.RowSum(1))
	assert.Equal(t, 1, strings.Count(buf.String(), "Skipping corrupted image"))
}

func TestEvaluate_ClassMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.BuildCorpus(t, fs, "/val", testutil.Corpus{Counts: map[string]int{"a": 2, "c": 2}, Size: 8})

	src, err := imagefolder.Open(fs, "/val", preprocess.Default(8))
	require.NoError(t, err)

	ev := NewEvaluator(Options{Fs: fs, PlotPath: "/out/cm.png"})

	_, _, err = ev.Evaluate(context.Background(), src, newCheckpoint(t, "a", "b"), src.Classes())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrClassMismatch))

	var mismatch *model.ClassMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{"a", "b"}, mismatch.Expected)

	// Checkpoint agrees with the caller but the source does not.
	ab, err := model.NewClassIndex([]string{"a", "b"})
	require.NoError(t, err)
	_, _, err = ev.Evaluate(context.Background(), src, newCheckpoint(t, "a", "b"), ab)
	assert.True(t, errors.Is(err, common.ErrClassMismatch))

	exists, err := afero.Exists(fs, "/out/cm.png")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEvaluate_TransformMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutil.BuildCorpus(t, fs, "/val", testutil.Corpus{Counts: map[string]int{"a": 2, "b": 2}, Size: 8})
	src, err := imagefolder.Open(fs, "/val", preprocess.Default(16))
	require.NoError(t, err)

	ev := NewEvaluator(Options{Fs: fs})
	_, _, err = ev.Evaluate(context.Background(), src, newCheckpoint(t, "a", "b"), src.Classes())
	assert.True(t, errors.Is(err, common.ErrInput))
}

func TestRenderConfusion(t *testing.T) {
	classes, err := model.NewClassIndex([]string{"cats", "dogs"})
	require.NoError(t, err)
	m := model.NewConfusionMatrix(classes)
	require.NoError(t, m.Add(0, 0))
	require.NoError(t, m.Add(0, 1))
	require.NoError(t, m.Add(1, 1))

	var buf bytes.Buffer
	require.NoError(t, RenderConfusion(&buf, m))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, labelMargin+2*cellSize+20, img.Bounds().Dx())
	assert.Equal(t, titleHeight+2*cellSize+axisHeight, img.Bounds().Dy())
}

func TestRenderLossCurve(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderLossCurve(&buf, []float64{0.9, 0.7, 0.65, 0.5}))
	_, err := png.Decode(&buf)
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, RenderLossCurve(&buf, []float64{0.5, 0.5}))

	err = RenderLossCurve(&buf, []float64{0.5})
	assert.True(t, errors.Is(err, common.ErrInput))
}
