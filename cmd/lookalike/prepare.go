package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/lookalike/internal/cli"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/dataset"
	"github.com/spf13/cobra"
)

func prepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Split the raw corpus into train and val sets",
		Long: `Partition every label directory of the raw corpus into a training and a
validation set. The split is seeded, so the same corpus and seed always
produce the same partition.`,
		Example: `  # Default 80/20 split
  lookalike prepare

  # 90/10 split with a different seed
  LOOKALIKE_SPLIT_RATIO=0.9 LOOKALIKE_SPLIT_SEED=7 lookalike prepare`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withEnv(ctx, cmd.OutOrStdout(), func(env *stageEnv) error {
				return runPrepare(ctx, env)
			})
		},
	}
}

func runPrepare(ctx context.Context, env *stageEnv) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env.println(cli.FormatHeading(cli.FolderIcon, "Preparing dataset"))

	cfg := env.cfg
	result, err := dataset.Split(env.fs, cfg.Data.RawDir, cfg.Data.SplitDir, dataset.Options{
		Logger: env.logger,
		Ratio:  cfg.Split.Ratio,
		Seed:   cfg.Split.Seed,
	})
	if err != nil {
		return common.NewUserError("failed to split dataset", err)
	}

	train, val := result.Totals()
	env.println(cli.FormatSuccess(fmt.Sprintf("Split %d classes %s: %d train, %d val",
		result.Classes.Len(), result.Classes, train, val)))
	return nil
}
