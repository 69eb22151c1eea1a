package main

import (
	"github.com/spf13/cobra"
)

// runPipeline runs the stages selected by the root command's flags in the
// fixed order setup, prepare, train, evaluate, predict.
func runPipeline(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	setup, _ := flags.GetBool("setup")
	prepare, _ := flags.GetBool("prepare")
	train, _ := flags.GetBool("train")
	evaluate, _ := flags.GetBool("evaluate")
	predict, _ := flags.GetBool("predict")
	img, _ := flags.GetString("img")

	if !setup && !prepare && !train && !evaluate && !predict {
		return cmd.Help()
	}

	ctx := cmd.Context()
	return withEnv(ctx, cmd.OutOrStdout(), func(env *stageEnv) error {
		// A bad --img fails before any stage does work.
		if predict {
			if err := checkPredictInput(env, img); err != nil {
				return err
			}
		}

		if setup {
			if err := runSetup(ctx, env); err != nil {
				return err
			}
		}
		if prepare {
			if err := runPrepare(ctx, env); err != nil {
				return err
			}
		}
		if train {
			if err := runTrain(ctx, env); err != nil {
				return err
			}
		}
		if evaluate {
			if err := runEvaluate(ctx, env); err != nil {
				return err
			}
		}
		if predict {
			return runPredict(ctx, env, img)
		}
		return nil
	})
}
