package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/lookalike/internal/archive"
	"github.com/Veraticus/lookalike/internal/cli"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/spf13/cobra"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Extract the dataset archive",
		Long: `Extract the configured dataset archive (zip, tar or tar.gz) into the
extraction directory. Any previous extraction is removed first and the
archive is deleted afterwards unless data.keep_archive is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withEnv(ctx, cmd.OutOrStdout(), func(env *stageEnv) error {
				return runSetup(ctx, env)
			})
		},
	}
}

func runSetup(ctx context.Context, env *stageEnv) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env.println(cli.FormatHeading(cli.FolderIcon, "Extracting dataset"))

	data := env.cfg.Data
	err := archive.Extract(data.Archive, data.ExtractDir, archive.Options{
		Logger:      env.logger,
		KeepArchive: data.KeepArchive,
	})
	if err != nil {
		return common.NewUserError("failed to set up dataset", err)
	}

	env.println(cli.FormatSuccess(fmt.Sprintf("Extracted %s to %s", data.Archive, data.ExtractDir)))
	return nil
}
