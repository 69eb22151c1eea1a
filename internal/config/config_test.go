package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "./data/catsvsdogs-dataset.zip", cfg.Data.Archive)
	assert.Equal(t, "./data/split", cfg.Data.SplitDir)
	assert.InDelta(t, 0.8, cfg.Split.Ratio, 1e-12)
	assert.Equal(t, int64(42), cfg.Split.Seed)
	assert.Equal(t, 10, cfg.Train.Epochs)
	assert.Equal(t, 32, cfg.Train.BatchSize)
	assert.InDelta(t, 0.001, cfg.Train.LearningRate, 1e-12)
	assert.Equal(t, "auto", cfg.Train.Device)
	assert.True(t, cfg.Train.Shuffle)
	assert.Equal(t, 128, cfg.Model.ImageSize)
	assert.Equal(t, []int{8, 16}, cfg.Model.Filters)
	assert.Equal(t, "confusion_matrix.png", cfg.Evaluate.Plot)
	assert.Equal(t, filepath.Join("/home/tester", ".local/share/lookalike/runs.db"), cfg.Registry.Path)
	assert.Empty(t, cfg.Metrics.Textfile)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	v := viper.New()
	v.Set("train.epochs", 3)
	v.Set("train.device", "CPU")
	v.Set("model.checkpoint", "~/models/cats.ckpt")
	v.Set("model.filters", []int{4})
	v.Set("registry.path", "")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Train.Epochs)
	assert.Equal(t, "cpu", cfg.Train.Device)
	assert.Equal(t, "/home/tester/models/cats.ckpt", cfg.Model.Checkpoint)
	assert.Equal(t, []int{4}, cfg.Model.Filters)
	assert.Empty(t, cfg.Registry.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "ratio zero", key: "split.ratio", value: 0.0},
		{name: "ratio above one", key: "split.ratio", value: 1.5},
		{name: "no epochs", key: "train.epochs", value: 0},
		{name: "no batch size", key: "train.batch_size", value: 0},
		{name: "negative learning rate", key: "train.learning_rate", value: -0.1},
		{name: "unknown device", key: "train.device", value: "tpu"},
		{name: "bad log level", key: "logging.level", value: "loud"},
		{name: "bad log format", key: "logging.format", value: "xml"},
		{name: "tiny image", key: "model.image_size", value: 2},
		{name: "zero filter", key: "model.filters", value: []int{8, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidConfig))
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("LOOKALIKE_DATA", "/srv/data")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "tilde only", in: "~", want: "/home/tester"},
		{name: "tilde prefix", in: "~/model.ckpt", want: "/home/tester/model.ckpt"},
		{name: "env var", in: "$LOOKALIKE_DATA/split", want: "/srv/data/split"},
		{name: "relative", in: "./data/split", want: "./data/split"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
