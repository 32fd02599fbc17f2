package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"irisapi/ml"
)

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the model and write both artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			trainCfg := trainingConfig(cfg)
			bar := progressbar.NewOptions(max(trainCfg.Forest.NumTrees, 1),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Fitting trees"),
				progressbar.OptionClearOnFinish(),
			)
			trainCfg.OnTreeFitted = func(done, total int) {
				bar.ChangeMax(total)
				_ = bar.Set(done)
			}

			result, err := ml.Train(cmd.Context(), trainCfg)
			_ = bar.Finish()
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			logTrainingResult(logger, trainCfg, result)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model %s saved to %s\n", result.Info.Version, trainCfg.ModelPath)
			fmt.Fprintf(out, "label encoder saved to %s\n", trainCfg.EncoderPath)
			fmt.Fprintf(out, "accuracy=%.2f precision=%.2f recall=%.2f\n",
				result.Metrics.Accuracy, result.Metrics.Precision, result.Metrics.Recall)
			return nil
		},
	}
}
