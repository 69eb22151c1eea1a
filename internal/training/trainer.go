// Package training runs the epoch and batch loop that fits the network to a
// training source and writes the resulting checkpoint.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Veraticus/lookalike/internal/checkpoint"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/imagefolder"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/nn"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Default hyperparameters.
const (
	DefaultEpochs       = 10
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.001
	DefaultLogInterval  = 10
	DefaultSeed         = 42
	DefaultWorkers      = 4
)

// Options configures a Trainer.
type Options struct {
	Fs     afero.Fs
	Logger *slog.Logger
	// Device runs the per-sample work. Nil selects one automatically.
	Device         nn.Device
	CheckpointPath string
	RunID          string
	Filters        []int
	Epochs         int
	BatchSize      int
	LearningRate   float64
	LogInterval    int
	Seed           int64
	Workers        int
	Shuffle        bool
}

// DefaultOptions returns the standard hyperparameters writing model.ckpt on
// the OS filesystem.
func DefaultOptions() Options {
	return Options{
		Fs:             afero.NewOsFs(),
		CheckpointPath: "model.ckpt",
		Filters:        nn.DefaultFilters,
		Epochs:         DefaultEpochs,
		BatchSize:      DefaultBatchSize,
		LearningRate:   DefaultLearningRate,
		LogInterval:    DefaultLogInterval,
		Seed:           DefaultSeed,
		Workers:        DefaultWorkers,
		Shuffle:        true,
	}
}

// Report collects the metrics of a finished run.
type Report struct {
	RunID          string
	Device         string
	CheckpointPath string
	Classes        model.ClassIndex
	// BatchLosses holds every batch loss of every epoch in order.
	BatchLosses  []float64
	Epochs       []model.EpochMetrics
	TrainSamples int
	ValSamples   int
	Duration     time.Duration
}

// Final returns the metrics of the last completed epoch.
func (r *Report) Final() (model.EpochMetrics, bool) {
	if len(r.Epochs) == 0 {
		return model.EpochMetrics{}, false
	}
	return r.Epochs[len(r.Epochs)-1], true
}

// Trainer fits a fresh network to a training source.
type Trainer struct {
	logger    *slog.Logger
	observers []Observer
	opts      Options
}

// NewTrainer validates opts and returns a Trainer reporting to observers.
func NewTrainer(opts Options, observers ...Observer) (*Trainer, error) {
	if opts.Epochs < 1 {
		return nil, fmt.Errorf("%w: epochs must be at least 1", common.ErrInput)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1", common.ErrInput)
	}
	if opts.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive", common.ErrInput)
	}
	if opts.LogInterval < 1 {
		opts.LogInterval = DefaultLogInterval
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if len(opts.Filters) == 0 {
		opts.Filters = nn.DefaultFilters
	}
	if opts.CheckpointPath == "" {
		return nil, fmt.Errorf("%w: checkpoint path", common.ErrMissingConfig)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Device == nil {
		device, err := nn.SelectDevice(nn.DeviceAuto, opts.Workers, logger)
		if err != nil {
			return nil, err
		}
		opts.Device = device
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	return &Trainer{opts: opts, logger: logger, observers: observers}, nil
}

// RunID identifies the run this trainer records.
func (t *Trainer) RunID() string {
	return t.opts.RunID
}

// Device returns the device batches run on.
func (t *Trainer) Device() nn.Device {
	return t.opts.Device
}

// Train fits a network to train for the configured number of epochs and
// saves the checkpoint once the last epoch completes. classes must be the
// index the training source was opened with; it sizes the output head and is
// embedded in the checkpoint. When val is not nil it is scored after every
// epoch. If ctx is canceled, Train stops between batches and no checkpoint
// is written.
func (t *Trainer) Train(ctx context.Context, train, val *imagefolder.Source, classes model.ClassIndex) (*checkpoint.Checkpoint, *Report, error) {
	if err := model.CheckClasses("training source", classes, train.Classes()); err != nil {
		return nil, nil, err
	}
	if val != nil {
		if err := model.CheckClasses("validation source", classes, val.Classes()); err != nil {
			return nil, nil, err
		}
		if val.Len() == 0 {
			t.logger.Warn("Validation source is empty, skipping validation", "root", val.Root())
			val = nil
		}
	}

	transform := train.Transform()
	arch := nn.Arch{
		InputSize:  transform.Size,
		InChannels: transform.Shape()[0],
		Filters:    t.opts.Filters,
		Classes:    classes.Len(),
	}
	net, err := nn.New(arch, t.opts.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build network: %w", err)
	}
	optimizer := nn.NewAdam(t.opts.LearningRate, net.Params())

	start := time.Now()
	report := &Report{
		RunID:          t.opts.RunID,
		Device:         t.opts.Device.Name(),
		CheckpointPath: t.opts.CheckpointPath,
		Classes:        classes,
		TrainSamples:   train.Len(),
	}
	if val != nil {
		report.ValSamples = val.Len()
	}

	t.logger.Info("Using device", "device", t.opts.Device.Name(), "run_id", t.opts.RunID)
	t.logSummary(train, val, classes)

	shuffler := rand.New(rand.NewSource(t.opts.Seed)) //nolint:gosec // reproducible order, not security sensitive

	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		order := imagefolder.Identity(train.Len())
		if t.opts.Shuffle {
			order = shuffler.Perm(train.Len())
		}

		metrics, losses, err := t.runEpoch(ctx, epoch, net, optimizer, train, order)
		report.BatchLosses = append(report.BatchLosses, losses...)
		if err != nil {
			report.Duration = time.Since(start)
			return nil, report, err
		}

		if val != nil {
			valLoss, valAcc, seen, err := Validate(ctx, t.opts.Device, net, val, t.opts.BatchSize, t.opts.Workers)
			if err != nil {
				report.Duration = time.Since(start)
				return nil, report, fmt.Errorf("failed to validate epoch %d: %w", epoch, err)
			}
			metrics.HasValidation = true
			metrics.ValLoss = valLoss
			metrics.ValAccuracy = valAcc
			metrics.ValSamples = seen
		}

		report.Epochs = append(report.Epochs, metrics)
		t.logEpoch(metrics)
		for _, o := range t.observers {
			o.OnEpoch(ctx, metrics)
		}
	}

	if err := ctx.Err(); err != nil {
		report.Duration = time.Since(start)
		return nil, report, err
	}

	ck, err := checkpoint.New(net, classes, transform, t.opts.RunID)
	if err != nil {
		return nil, report, err
	}
	if err := checkpoint.Save(t.opts.Fs, t.opts.CheckpointPath, ck); err != nil {
		return nil, report, err
	}
	report.Duration = time.Since(start)

	t.logger.Info("Model saved", "path", t.opts.CheckpointPath, "duration", report.Duration.Round(time.Millisecond))
	return ck, report, nil
}

func (t *Trainer) runEpoch(
	ctx context.Context,
	epoch int,
	net *nn.Network,
	optimizer *nn.Adam,
	train *imagefolder.Source,
	order []int,
) (model.EpochMetrics, []float64, error) {
	metrics := model.EpochMetrics{Epoch: epoch}
	epochStart := time.Now()

	it, err := train.Batches(ctx, order, t.opts.BatchSize, t.opts.Workers)
	if err != nil {
		return metrics, nil, err
	}
	defer it.Close()

	totalBatches := imagefolder.NumBatches(len(order), t.opts.BatchSize)
	var (
		losses      []float64
		runningLoss float64
		correct     int
		seen        int
	)

	for {
		if err := ctx.Err(); err != nil {
			return metrics, losses, err
		}

		batchStart := time.Now()
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return metrics, losses, fmt.Errorf("failed to load batch in epoch %d: %w", epoch, err)
		}

		inputs := make([][]float64, len(batch.Samples))
		for i, s := range batch.Samples {
			inputs[i] = s.Tensor
		}
		labels := batch.Labels()

		res, err := t.opts.Device.Gradients(ctx, net, inputs, labels)
		if err != nil {
			return metrics, losses, fmt.Errorf("failed to compute gradients for batch %d: %w", batch.Number, err)
		}
		if err := optimizer.Step(net.Params(), res.Grads); err != nil {
			return metrics, losses, fmt.Errorf("failed to update parameters: %w", err)
		}

		losses = append(losses, res.Loss)
		runningLoss += res.Loss
		correct += res.Correct
		seen += len(batch.Samples)

		progress := model.BatchProgress{
			Epoch:        epoch,
			Batch:        batch.Number,
			TotalBatches: max(totalBatches, batch.Number),
			Loss:         res.Loss,
			AvgLoss:      runningLoss / float64(batch.Number),
			Accuracy:     float64(correct) / float64(seen),
			Samples:      seen,
			Correct:      correct,
			Duration:     time.Since(batchStart),
			Last:         batch.Last,
			Logged:       batch.Number%t.opts.LogInterval == 0 || batch.Last,
		}
		if progress.Logged {
			t.logger.Info(fmt.Sprintf("Epoch %d [%d/%d]", epoch, batch.Number, progress.TotalBatches),
				"avg_loss", fmt.Sprintf("%.4f", progress.AvgLoss),
				"accuracy", fmt.Sprintf("%.4f", progress.Accuracy))
		}
		for _, o := range t.observers {
			o.OnBatch(ctx, progress)
		}
	}

	metrics.Batches = len(losses)
	metrics.Samples = seen
	metrics.Skipped = it.Skipped()
	metrics.Duration = time.Since(epochStart)
	if metrics.Batches > 0 {
		metrics.Loss = runningLoss / float64(metrics.Batches)
	}
	if seen > 0 {
		metrics.Accuracy = float64(correct) / float64(seen)
	}
	return metrics, losses, nil
}

// Validate scores net on src without updating it, returning the mean batch
// loss, the accuracy and the number of samples scored.
func Validate(
	ctx context.Context,
	device nn.Device,
	net *nn.Network,
	src *imagefolder.Source,
	batchSize, workers int,
) (loss, accuracy float64, seen int, err error) {
	it, err := src.Batches(ctx, imagefolder.Identity(src.Len()), batchSize, workers)
	if err != nil {
		return 0, 0, 0, err
	}
	defer it.Close()

	var total float64
	var batches, correct int
	for {
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, 0, 0, err
		}

		inputs := make([][]float64, len(batch.Samples))
		for i, s := range batch.Samples {
			inputs[i] = s.Tensor
		}
		probs, err := device.Infer(ctx, net, inputs)
		if err != nil {
			return 0, 0, 0, err
		}

		batchLoss := 0.0
		for i, p := range probs {
			label := batch.Samples[i].Label
			batchLoss += crossEntropyFromProbs(p, label)
			if nn.Argmax(p) == label {
				correct++
			}
		}
		total += batchLoss / float64(len(probs))
		batches++
		seen += len(batch.Samples)
	}

	if batches == 0 {
		return 0, 0, 0, nil
	}
	return total / float64(batches), float64(correct) / float64(seen), seen, nil
}

func (t *Trainer) logSummary(train, val *imagefolder.Source, classes model.ClassIndex) {
	names := classes.Names()
	t.logger.Info("Dataset information",
		"classes", names,
		"num_classes", classes.Len(),
		"sample_shape", train.Transform().Shape())

	counts := train.Counts()
	for i, name := range names {
		t.logger.Info("Training samples", "class", name, "images", counts[i])
	}
	t.logger.Info("Total training images", "images", train.Len())

	if val == nil {
		return
	}
	counts = val.Counts()
	for i, name := range names {
		t.logger.Info("Validation samples", "class", name, "images", counts[i])
	}
	t.logger.Info("Total validation images", "images", val.Len())
}

func (t *Trainer) logEpoch(m model.EpochMetrics) {
	attrs := []any{
		"loss", fmt.Sprintf("%.4f", m.Loss),
		"accuracy", fmt.Sprintf("%.4f", m.Accuracy),
		"samples", m.Samples,
		"skipped", m.Skipped,
		"duration", m.Duration.Round(time.Millisecond),
	}
	if m.HasValidation {
		attrs = append(attrs,
			"val_loss", fmt.Sprintf("%.4f", m.ValLoss),
			"val_accuracy", fmt.Sprintf("%.4f", m.ValAccuracy))
	}
	t.logger.Info(fmt.Sprintf("Epoch %d completed", m.Epoch), attrs...)
}
