package config

import (
	"fmt"
	"strings"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/spf13/viper"
)

// Config is the resolved pipeline configuration. Every path in it has
// already been expanded.
type Config struct {
	Logging  LoggingConfig
	Data     DataConfig
	Split    SplitConfig
	Train    TrainConfig
	Model    ModelConfig
	Evaluate EvaluateConfig
	Registry RegistryConfig
	Metrics  MetricsConfig
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// DataConfig locates the archive and the directories derived from it.
type DataConfig struct {
	Archive     string
	ExtractDir  string
	RawDir      string
	SplitDir    string
	KeepArchive bool
}

// SplitConfig parameterizes the train/val partition.
type SplitConfig struct {
	Ratio float64
	Seed  int64
}

// TrainConfig holds the training hyperparameters.
type TrainConfig struct {
	Device       string
	LossPlot     string
	Epochs       int
	BatchSize    int
	LearningRate float64
	LogInterval  int
	Seed         int64
	Workers      int
	Shuffle      bool
}

// ModelConfig describes the network and where its checkpoint lives.
type ModelConfig struct {
	Checkpoint string
	Filters    []int
	ImageSize  int
}

// EvaluateConfig controls evaluation artifacts.
type EvaluateConfig struct {
	Plot string
}

// RegistryConfig locates the run registry database. An empty path disables it.
type RegistryConfig struct {
	Path string
}

// MetricsConfig locates the Prometheus textfile. An empty path disables it.
type MetricsConfig struct {
	Textfile string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("data.archive", "./data/catsvsdogs-dataset.zip")
	v.SetDefault("data.extract_dir", "./data/archive")
	v.SetDefault("data.raw_dir", "./data/archive")
	v.SetDefault("data.split_dir", "./data/split")
	v.SetDefault("data.keep_archive", false)

	v.SetDefault("split.ratio", 0.8)
	v.SetDefault("split.seed", 42)

	v.SetDefault("train.epochs", 10)
	v.SetDefault("train.batch_size", 32)
	v.SetDefault("train.learning_rate", 0.001)
	v.SetDefault("train.log_interval", 10)
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.shuffle", true)
	v.SetDefault("train.workers", 4)
	v.SetDefault("train.device", "auto")
	v.SetDefault("train.loss_plot", "")

	v.SetDefault("model.image_size", 128)
	v.SetDefault("model.filters", []int{8, 16})
	v.SetDefault("model.checkpoint", "./model.ckpt")

	v.SetDefault("evaluate.plot", "confusion_matrix.png")

	v.SetDefault("registry.path", "$HOME/.local/share/lookalike/runs.db")
	v.SetDefault("metrics.textfile", "")
}

// Load reads the configuration from v, applying defaults for any key that
// is not set, and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Data: DataConfig{
			Archive:     ExpandPath(v.GetString("data.archive")),
			ExtractDir:  ExpandPath(v.GetString("data.extract_dir")),
			RawDir:      ExpandPath(v.GetString("data.raw_dir")),
			SplitDir:    ExpandPath(v.GetString("data.split_dir")),
			KeepArchive: v.GetBool("data.keep_archive"),
		},
		Split: SplitConfig{
			Ratio: v.GetFloat64("split.ratio"),
			Seed:  v.GetInt64("split.seed"),
		},
		Train: TrainConfig{
			Epochs:       v.GetInt("train.epochs"),
			BatchSize:    v.GetInt("train.batch_size"),
			LearningRate: v.GetFloat64("train.learning_rate"),
			LogInterval:  v.GetInt("train.log_interval"),
			Seed:         v.GetInt64("train.seed"),
			Shuffle:      v.GetBool("train.shuffle"),
			Workers:      v.GetInt("train.workers"),
			Device:       strings.ToLower(v.GetString("train.device")),
			LossPlot:     ExpandPath(v.GetString("train.loss_plot")),
		},
		Model: ModelConfig{
			ImageSize:  v.GetInt("model.image_size"),
			Filters:    v.GetIntSlice("model.filters"),
			Checkpoint: ExpandPath(v.GetString("model.checkpoint")),
		},
		Evaluate: EvaluateConfig{
			Plot: ExpandPath(v.GetString("evaluate.plot")),
		},
		Registry: RegistryConfig{
			Path: ExpandPath(v.GetString("registry.path")),
		},
		Metrics: MetricsConfig{
			Textfile: ExpandPath(v.GetString("metrics.textfile")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: invalid log format: %s", common.ErrInvalidConfig, c.Logging.Format)
	}

	if c.Split.Ratio <= 0 || c.Split.Ratio > 1 {
		return fmt.Errorf("%w: split.ratio must be in (0, 1], got %g", common.ErrInvalidConfig, c.Split.Ratio)
	}

	if c.Train.Epochs < 1 {
		return fmt.Errorf("%w: train.epochs must be at least 1", common.ErrInvalidConfig)
	}
	if c.Train.BatchSize < 1 {
		return fmt.Errorf("%w: train.batch_size must be at least 1", common.ErrInvalidConfig)
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("%w: train.learning_rate must be positive", common.ErrInvalidConfig)
	}
	if c.Train.LogInterval < 1 {
		return fmt.Errorf("%w: train.log_interval must be at least 1", common.ErrInvalidConfig)
	}
	if c.Train.Workers < 1 {
		return fmt.Errorf("%w: train.workers must be at least 1", common.ErrInvalidConfig)
	}
	switch c.Train.Device {
	case "auto", "cpu", "parallel":
	default:
		return fmt.Errorf("%w: unknown train.device %q", common.ErrInvalidConfig, c.Train.Device)
	}

	if c.Model.ImageSize < 4 {
		return fmt.Errorf("%w: model.image_size must be at least 4", common.ErrInvalidConfig)
	}
	if len(c.Model.Filters) == 0 {
		return fmt.Errorf("%w: model.filters must name at least one stage", common.ErrInvalidConfig)
	}
	for _, f := range c.Model.Filters {
		if f < 1 {
			return fmt.Errorf("%w: model.filters entries must be positive", common.ErrInvalidConfig)
		}
	}
	if c.Model.Checkpoint == "" {
		return fmt.Errorf("%w: model.checkpoint", common.ErrMissingConfig)
	}

	return nil
}
