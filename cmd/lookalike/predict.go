package main

import (
	"context"

	"github.com/Veraticus/lookalike/internal/checkpoint"
	"github.com/Veraticus/lookalike/internal/cli"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/prediction"
	"github.com/spf13/cobra"
)

func predictCmd() *cobra.Command {
	var img string

	cmd := &cobra.Command{
		Use:   "predict [image]",
		Short: "Classify a single image",
		Long:  `Classify one image with the saved checkpoint and print the predicted label with its confidence.`,
		Example: `  lookalike predict ./photo.jpg
  lookalike predict --img ./photo.jpg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				img = args[0]
			}
			ctx := cmd.Context()
			return withEnv(ctx, cmd.OutOrStdout(), func(env *stageEnv) error {
				if err := checkPredictInput(env, img); err != nil {
					return err
				}
				return runPredict(ctx, env, img)
			})
		},
	}

	cmd.Flags().StringVar(&img, "img", "", "image to classify")

	return cmd
}

// checkPredictInput rejects a missing or unreadable image before anything
// else is loaded.
func checkPredictInput(env *stageEnv, img string) error {
	if img == "" {
		return common.NewUserError("an image path is required for prediction (--img)", common.ErrInput)
	}
	if err := prediction.CheckImage(env.fs, img); err != nil {
		return common.NewUserError("cannot classify image", err)
	}
	return nil
}

func runPredict(ctx context.Context, env *stageEnv, img string) error {
	ck, err := checkpoint.Load(env.fs, env.cfg.Model.Checkpoint)
	if err != nil {
		return common.NewUserError("failed to load checkpoint (run train first)", err)
	}

	predictor, err := prediction.New(ck, model.ClassIndex{},
		prediction.WithFs(env.fs),
		prediction.WithLogger(env.logger),
	)
	if err != nil {
		return err
	}

	result, err := predictor.Predict(ctx, img)
	if err != nil {
		return common.NewUserError("prediction failed", err)
	}
	env.metrics.OnPrediction(result)

	env.println(cli.FormatPrediction(result))
	return nil
}
