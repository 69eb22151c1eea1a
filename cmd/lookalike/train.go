package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Veraticus/lookalike/internal/checkpoint"
	"github.com/Veraticus/lookalike/internal/cli"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/dataset"
	"github.com/Veraticus/lookalike/internal/evaluation"
	"github.com/Veraticus/lookalike/internal/imagefolder"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/nn"
	"github.com/Veraticus/lookalike/internal/preprocess"
	"github.com/Veraticus/lookalike/internal/storage"
	"github.com/Veraticus/lookalike/internal/training"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the model and save a checkpoint",
		Long: `Train a fresh network on the training split and write the checkpoint.
The validation split, when present, is scored after every epoch.

Interrupting training stops after the current batch and writes no checkpoint.`,
		Example: `  # Train with the configured hyperparameters
  lookalike train

  # Train longer with bigger batches
  lookalike train --epochs 30 --batch-size 64`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withEnv(ctx, cmd.OutOrStdout(), func(env *stageEnv) error {
				return runTrain(ctx, env)
			})
		},
	}
}

func runTrain(ctx context.Context, env *stageEnv) error {
	interrupts.SetTraining(true)
	defer interrupts.SetTraining(false)

	cfg := env.cfg
	env.println(cli.FormatHeading(cli.BrainIcon, "Training"))

	transform := preprocess.Default(cfg.Model.ImageSize)
	trainDir := filepath.Join(cfg.Data.SplitDir, dataset.TrainDir)
	valDir := filepath.Join(cfg.Data.SplitDir, dataset.ValDir)

	train, err := imagefolder.Open(env.fs, trainDir, transform,
		imagefolder.WithLogger(env.logger),
		imagefolder.WithSkipHook(env.metrics.OnSkip),
	)
	if err != nil {
		return common.NewUserError("failed to open training images (run prepare first)", err)
	}
	classes := train.Classes()

	val, err := imagefolder.Open(env.fs, valDir, transform,
		imagefolder.WithClassIndex(classes),
		imagefolder.WithLogger(env.logger),
		imagefolder.WithSkipHook(env.metrics.OnSkip),
	)
	if err != nil {
		if !errors.Is(err, common.ErrMissingResource) {
			return common.NewUserError("failed to open validation images", err)
		}
		env.logger.Warn("No validation split, training without validation", "dir", valDir)
		val = nil
	}

	device, err := nn.SelectDevice(cfg.Train.Device, cfg.Train.Workers, env.logger)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	observers := []training.Observer{
		cli.NewTrainingProgress(env.out, cfg.Train.Epochs),
		env.metrics,
	}
	if env.registry != nil {
		observers = append(observers, storage.NewRunRecorder(env.registry, runID, env.logger))
	}

	trainer, err := training.NewTrainer(training.Options{
		Fs:             env.fs,
		Logger:         env.logger,
		Device:         device,
		CheckpointPath: cfg.Model.Checkpoint,
		RunID:          runID,
		Filters:        cfg.Model.Filters,
		Epochs:         cfg.Train.Epochs,
		BatchSize:      cfg.Train.BatchSize,
		LearningRate:   cfg.Train.LearningRate,
		LogInterval:    cfg.Train.LogInterval,
		Seed:           cfg.Train.Seed,
		Workers:        cfg.Train.Workers,
		Shuffle:        cfg.Train.Shuffle,
	}, observers...)
	if err != nil {
		return err
	}

	run := &model.Run{
		ID:             runID,
		StartedAt:      time.Now(),
		Status:         model.RunStatusRunning,
		TrainDir:       trainDir,
		CheckpointPath: cfg.Model.Checkpoint,
		Device:         device.Name(),
		Classes:        classes,
		Params: model.Hyperparameters{
			Epochs:       cfg.Train.Epochs,
			BatchSize:    cfg.Train.BatchSize,
			LearningRate: cfg.Train.LearningRate,
			Seed:         cfg.Train.Seed,
			Shuffle:      cfg.Train.Shuffle,
			ImageSize:    cfg.Model.ImageSize,
			Filters:      cfg.Model.Filters,
		},
	}
	if val != nil {
		run.ValDir = valDir
	}
	env.createRun(ctx, run)

	_, report, trainErr := trainer.Train(ctx, train, val, classes)
	env.finishRun(ctx, run, report, trainErr)

	if trainErr != nil {
		if errors.Is(trainErr, context.Canceled) {
			return common.NewUserError("training interrupted, no checkpoint written", trainErr)
		}
		return common.NewUserError("training failed", trainErr)
	}

	if path := cfg.Train.LossPlot; path != "" {
		if len(report.BatchLosses) < 2 {
			env.logger.Warn("Not enough batches for a loss curve", "batches", len(report.BatchLosses))
		} else {
			err := evaluation.SavePlot(env.fs, path, func(w io.Writer) error {
				return evaluation.RenderLossCurve(w, report.BatchLosses)
			})
			if err != nil {
				return fmt.Errorf("failed to save loss curve: %w", err)
			}
			env.println(cli.FormatInfo("Loss curve saved to " + path))
		}
	}

	size, err := checkpoint.Size(env.fs, cfg.Model.Checkpoint)
	if err != nil {
		return err
	}
	env.println(cli.FormatSuccess(fmt.Sprintf("Model saved to %s (%s, run %s)",
		cfg.Model.Checkpoint, cli.FormatSize(size), runID)))
	return nil
}

// createRun records the start of run. Registry failures only warn.
func (e *stageEnv) createRun(ctx context.Context, run *model.Run) {
	if e.registry == nil {
		return
	}
	if err := e.registry.CreateRun(ctx, run); err != nil {
		e.logger.Warn("Failed to record run in registry", "run_id", run.ID, "error", err)
	}
}

// finishRun records how run ended. It still runs after ctx was canceled.
func (e *stageEnv) finishRun(ctx context.Context, run *model.Run, report *training.Report, trainErr error) {
	if e.registry == nil {
		return
	}

	finished := time.Now()
	run.FinishedAt = &finished
	switch {
	case trainErr == nil:
		run.Status = model.RunStatusCompleted
	case errors.Is(trainErr, context.Canceled):
		run.Status = model.RunStatusCanceled
		run.Error = trainErr.Error()
	default:
		run.Status = model.RunStatusFailed
		run.Error = trainErr.Error()
	}
	if report != nil {
		if final, ok := report.Final(); ok {
			run.FinalLoss = final.Loss
			run.FinalAccuracy = final.Accuracy
		}
	}

	if err := e.registry.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.Warn("Failed to update run in registry", "run_id", run.ID, "error", err)
	}
}
