package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/lookalike/internal/cli"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded training runs",
		Long: `List the training runs recorded in the run registry, newest first.
With a run ID, show that run's per-epoch metrics and its evaluations.`,
		Example: `  # Ten most recent runs
  lookalike runs

  # Every run
  lookalike runs --limit 0

  # Details of one run
  lookalike runs 3f1c2a9e-8d4b-4c55-9a0e-2b7f6d1e4c3a`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withEnv(ctx, cmd.OutOrStdout(), func(env *stageEnv) error {
				if env.registry == nil {
					return common.NewUserError("run registry is disabled (set registry.path)", common.ErrMissingConfig)
				}
				if len(args) == 1 {
					return showRun(ctx, env, args[0])
				}
				return listRuns(ctx, env, limit)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of runs to show (0 for all)")

	return cmd
}

func listRuns(ctx context.Context, env *stageEnv, limit int) error {
	runs, err := env.registry.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		env.println(cli.FormatInfo("No training runs recorded yet"))
		return nil
	}

	return cli.WriteRuns(env.out, runs, time.Now())
}

func showRun(ctx context.Context, env *stageEnv, id string) error {
	run, err := env.registry.GetRun(ctx, id)
	if err != nil {
		return common.NewUserError("failed to find run "+id, err)
	}

	now := time.Now()
	if err := cli.WriteRuns(env.out, []model.Run{*run}, now); err != nil {
		return err
	}

	if run.Error != "" {
		env.println(cli.FormatWarning(run.Error))
	}

	env.println("")
	env.println(cli.FormatTitle("Epochs"))
	if err := cli.WriteEpochs(env.out, run.Epochs); err != nil {
		return err
	}

	evaluations, err := env.registry.ListEvaluations(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list evaluations: %w", err)
	}
	if len(evaluations) > 0 {
		env.println("")
		env.println(cli.FormatTitle("Evaluations"))
		return cli.WriteEvaluations(env.out, evaluations, now)
	}
	return nil
}
