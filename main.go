package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"irisapi/config"
	"irisapi/logging"
	"irisapi/ml"
)

const defaultConfigFile = "config.yaml"

var (
	cfgFile string
	v       = config.NewViper()
	rootCmd = &cobra.Command{
		Use:   "irisapi",
		Short: "Iris species classifier and prediction API",
		Long: `irisapi trains a random forest on Fisher's iris dataset and serves
species predictions over HTTP.

Run without a subcommand it behaves like "irisapi serve".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), false)
		},
	}
)

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml if present)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Int("port", 0, "HTTP port (default 5001)")

	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("http.port", flags.Lookup("port"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(predictCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger. The config file is
// --config when given, otherwise ./config.yaml when it exists.
func setup() (*config.Config, *zap.Logger, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	cfg, err := config.Load(path, v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return cfg, logger, nil
}

func trainingConfig(cfg *config.Config) ml.TrainingConfig {
	return ml.TrainingConfig{
		DatasetPath: cfg.Dataset.Path,
		ModelPath:   cfg.Artifacts.ModelPath,
		EncoderPath: cfg.Artifacts.EncoderPath,
		TestRatio:   cfg.Training.TestRatio,
		ModelType:   cfg.Training.ModelType,
		Forest: ml.ForestParams{
			NumTrees:        cfg.Training.NumTrees,
			MaxDepth:        cfg.Training.MaxDepth,
			MaxFeatures:     cfg.Training.MaxFeatures,
			MinSamplesSplit: cfg.Training.MinSamplesSplit,
			Seed:            cfg.Training.Seed,
			Workers:         cfg.Training.Workers,
		},
	}
}

func logTrainingResult(logger *zap.Logger, config ml.TrainingConfig, result *ml.TrainingResult) {
	logger.Info("model trained",
		zap.String("version", result.Info.Version),
		zap.Int("trees", result.Info.NumTrees),
		zap.Strings("classes", result.Classes),
		zap.Int("train_size", result.TrainSize),
		zap.Int("test_size", result.TestSize),
		zap.Float64("accuracy", result.Metrics.Accuracy),
		zap.Float64("precision", result.Metrics.Precision),
		zap.Float64("recall", result.Metrics.Recall),
		zap.Duration("duration", result.Duration),
		zap.String("model_path", config.ModelPath),
		zap.String("encoder_path", config.EncoderPath),
	)
}
