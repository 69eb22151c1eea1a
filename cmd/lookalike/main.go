package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/lookalike/internal/cli"
	"github.com/Veraticus/lookalike/internal/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	version    = "dev"
	interrupts = cli.NewInterruptHandler(os.Stderr)
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookalike",
		Short: "👀 Train and run a binary image classifier",
		Long: `lookalike: learn to tell two kinds of look-alike images apart.

Extract a labeled image archive, split it into training and validation sets,
train a small convolutional network, evaluate it with a confusion matrix and
classify single images.

Stages run in order: --setup, --prepare, --train, --evaluate, --predict.`,
		Example: `  # Run the whole pipeline
  lookalike --setup --prepare --train --evaluate

  # Retrain for longer and evaluate
  lookalike --train --evaluate --epochs 20 --batch-size 64

  # Classify one image
  lookalike --predict --img ./cat.jpg`,
		PersistentPreRunE: initConfig,
		RunE:              runPipeline,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/lookalike/config.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	cmd.PersistentFlags().Int("epochs", 10, "number of training epochs")
	cmd.PersistentFlags().Int("batch-size", 32, "samples per training batch")

	// Pipeline stage flags
	cmd.Flags().Bool("setup", false, "extract the dataset archive")
	cmd.Flags().Bool("prepare", false, "split the raw corpus into train and val sets")
	cmd.Flags().Bool("train", false, "train the model and save a checkpoint")
	cmd.Flags().Bool("evaluate", false, "evaluate the checkpoint on the val set")
	cmd.Flags().Bool("predict", false, "classify the image given by --img")
	cmd.Flags().String("img", "", "image to classify with --predict")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("train.epochs", cmd.PersistentFlags().Lookup("epochs"))
	_ = viper.BindPFlag("train.batch_size", cmd.PersistentFlags().Lookup("batch-size"))

	// Add commands
	cmd.AddCommand(setupCmd())
	cmd.AddCommand(prepareCmd())
	cmd.AddCommand(trainCmd())
	cmd.AddCommand(evaluateCmd())
	cmd.AddCommand(predictCmd())
	cmd.AddCommand(runsCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func main() {
	ctx := interrupts.HandleInterrupts(context.Background(), false)

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err.Error()))
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	// Set up config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		// Search for config in standard locations
		viper.AddConfigPath(fmt.Sprintf("%s/.config/lookalike", home))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("LOOKALIKE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Set up logging
	if err := setupLogging(); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cmd.SetContext(common.WithLogger(cmd.Context(), slog.Default()))

	if used := viper.ConfigFileUsed(); used != "" {
		slog.Debug("Using config file", "path", used)
	}

	return nil
}

func setupLogging() error {
	level, err := common.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		return err
	}
	return common.SetupLogger(level, viper.GetString("logging.format"))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lookalike %s\n", version)
		},
	}
}
