package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"irisapi/config"
	"irisapi/db"
	qhttp "irisapi/http"
	"irisapi/ml"
	"irisapi/predictor"
)

func serveCmd() *cobra.Command {
	var skipTrain bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Train the model, then serve predictions over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), skipTrain)
		},
	}
	cmd.Flags().BoolVar(&skipTrain, "skip-train", false, "serve the existing artifacts without retraining")
	return cmd
}

func runServe(ctx context.Context, skipTrain bool) error {
	// 1. Load config
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 2. Open the prediction log
	var store qhttp.Store
	if cfg.Database.Path != "" {
		s, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer s.Close()
		store = s
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	// 3. Train before accepting any request
	trainCfg := trainingConfig(cfg)
	if !skipTrain {
		trainCfg.OnTreeFitted = func(done, total int) {
			logger.Debug("tree fitted", zap.Int("done", done), zap.Int("total", total))
		}
		result, err := ml.Train(ctx, trainCfg)
		if err != nil {
			return fmt.Errorf("training failed: %w", err)
		}
		trainCfg.OnTreeFitted = nil
		logTrainingResult(logger, trainCfg, result)
		if store != nil {
			if err := store.SaveTrainingLog(ctx, db.NewTrainingLog(result)); err != nil {
				logger.Warn("save training log failed", zap.Error(err))
			}
		}
	}

	// 4. Load the predictor
	service, err := predictor.New(predictorConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	go func() {
		if err := service.Watch(ctx); err != nil {
			logger.Error("artifact watcher stopped", zap.Error(err))
		}
	}()

	handlers := qhttp.NewHandlers(service, store, logger)
	handlers.SetTrainingConfig(trainCfg)

	// 5. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, handlers, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 6. Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := server.Stop(); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
			return err
		}
		logger.Info("exiting")
		return nil
	}
}

func predictorConfig(cfg *config.Config) predictor.Config {
	return predictor.Config{
		ModelPath:   cfg.Artifacts.ModelPath,
		EncoderPath: cfg.Artifacts.EncoderPath,
		Reload:      predictor.ReloadPolicy(cfg.Predictor.Reload),
		CacheSize:   cfg.Predictor.CacheSize,
	}
}
