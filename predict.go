package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"irisapi/ml"
	"irisapi/predictor"
)

func predictCmd() *cobra.Command {
	var m ml.Measurements
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the species of one flower from the saved artifacts",
		Example: `  irisapi predict --sepal-length 5.1 --sepal-width 3.5 --petal-length 1.4 --petal-width 0.2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			pc := predictorConfig(cfg)
			pc.Reload = predictor.ReloadStatic
			pc.CacheSize = 0
			service, err := predictor.New(pc, logger)
			if err != nil {
				return fmt.Errorf("failed to load model: %w", err)
			}

			prediction, err := service.Predict(cmd.Context(), m)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(prediction)
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&m.SepalLength, "sepal-length", 0, "sepal length in cm")
	flags.Float64Var(&m.SepalWidth, "sepal-width", 0, "sepal width in cm")
	flags.Float64Var(&m.PetalLength, "petal-length", 0, "petal length in cm")
	flags.Float64Var(&m.PetalWidth, "petal-width", 0, "petal width in cm")
	for _, name := range []string{"sepal-length", "sepal-width", "petal-length", "petal-width"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
