package main

import (
	"context"
	"fmt"
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
	"github.com/spf13/cobra"
)

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the checkpoint on the val set",
		Long: `Score the saved checkpoint on the validation split. Prints a per-class
classification report and the confusion matrix, and saves the matrix as a
heat map image.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withEnv(ctx, cmd.OutOrStdout(), func(env *stageEnv) error {
				return runEvaluate(ctx, env)
			})
		},
	}
}

func runEvaluate(ctx context.Context, env *stageEnv) error {
	cfg := env.cfg
	env.println(cli.FormatHeading(cli.ChartIcon, "Evaluating"))

	ck, err := checkpoint.Load(env.fs, cfg.Model.Checkpoint)
	if err != nil {
		return common.NewUserError("failed to load checkpoint (run train first)", err)
	}

	valDir := filepath.Join(cfg.Data.SplitDir, dataset.ValDir)
	val, err := imagefolder.Open(env.fs, valDir, ck.Transform,
		imagefolder.WithClassIndex(ck.Classes),
		imagefolder.WithLogger(env.logger),
		imagefolder.WithSkipHook(env.metrics.OnSkip),
	)
	if err != nil {
		return common.NewUserError("failed to open validation images", err)
	}

	device, err := nn.SelectDevice(cfg.Train.Device, cfg.Train.Workers, env.logger)
	if err != nil {
		return err
	}

	evaluator := evaluation.NewEvaluator(evaluation.Options{
		Fs:        env.fs,
		Logger:    env.logger,
		Device:    device,
		PlotPath:  cfg.Evaluate.Plot,
		BatchSize: cfg.Train.BatchSize,
		Workers:   cfg.Train.Workers,
	})

	report, matrix, err := evaluator.Evaluate(ctx, val, ck, ck.Classes)
	if err != nil {
		return common.NewUserError("evaluation failed", err)
	}
	env.metrics.OnEvaluation(report)

	env.println("")
	if err := cli.WriteClassificationReport(env.out, report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	env.println("")
	if err := cli.WriteConfusionMatrix(env.out, matrix); err != nil {
		return fmt.Errorf("failed to write confusion matrix: %w", err)
	}
	env.println("")

	if env.registry != nil {
		record := &model.Evaluation{
			CreatedAt:      time.Now(),
			RunID:          ck.RunID,
			CheckpointPath: cfg.Model.Checkpoint,
			ValDir:         valDir,
			PlotPath:       cfg.Evaluate.Plot,
			Accuracy:       report.Accuracy,
			Samples:        report.Total,
			Confusion:      matrix.Counts,
		}
		if err := env.registry.SaveEvaluation(ctx, record); err != nil {
			env.logger.Warn("Failed to record evaluation in registry", "error", err)
		}
	}

	if cfg.Evaluate.Plot != "" {
		env.println(cli.FormatInfo("Confusion matrix saved to " + cfg.Evaluate.Plot))
	}
	env.println(cli.FormatSuccess(fmt.Sprintf("Accuracy %.2f%% on %d images", 100*report.Accuracy, report.Total)))
	return nil
}
