package ml

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

type TrainingConfig struct {
	DatasetPath string
	ModelPath   string
	EncoderPath string
	TestRatio   float64
	// ModelType is random_forest (default) or decision_tree. A decision
	// tree uses the depth, feature and split settings of Forest.
	ModelType string
	Forest    ForestParams
	// OnTreeFitted reports forest progress; may be nil.
	OnTreeFitted func(done, total int)
}

type TrainingResult struct {
	Info      ModelInfo     `json:"info"`
	Classes   []string      `json:"classes"`
	Metrics   Metrics       `json:"metrics"`
	TrainSize int           `json:"train_size"`
	TestSize  int           `json:"test_size"`
	Duration  time.Duration `json:"duration"`
}

// Train fits a label encoder and a classifier on the dataset and writes
// both artifacts, replacing whatever was at those paths.
func Train(ctx context.Context, config TrainingConfig) (*TrainingResult, error) {
	if config.DatasetPath == "" {
		return nil, errors.New("dataset path is required")
	}
	if config.ModelPath == "" || config.EncoderPath == "" {
		return nil, errors.New("model and encoder paths are required")
	}
	start := time.Now()

	dataset, err := LoadDataset(config.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	encoder := &LabelEncoder{}
	if err := encoder.Fit(dataset.Labels); err != nil {
		return nil, fmt.Errorf("fit label encoder: %w", err)
	}
	labels, err := encoder.Transform(dataset.Labels)
	if err != nil {
		return nil, err
	}

	trainX, trainY, testX, testY, err := TrainTestSplit(dataset.Features, labels, config.TestRatio, config.Forest.Seed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := newModel(config, encoder.Len())
	if err != nil {
		return nil, err
	}
	if err := model.Train(trainX, trainY); err != nil {
		return nil, fmt.Errorf("train model: %w", err)
	}
	if _, ok := model.(*DecisionTree); ok && config.OnTreeFitted != nil {
		config.OnTreeFitted(1, 1)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics, err := Evaluate(model, testX, testY)
	if err != nil {
		return nil, fmt.Errorf("evaluate model: %w", err)
	}

	if err := SaveArtifacts(model, encoder, config.ModelPath, config.EncoderPath); err != nil {
		return nil, err
	}

	return &TrainingResult{
		Info:      model.Info(),
		Classes:   encoder.Classes(),
		Metrics:   metrics,
		TrainSize: len(trainX),
		TestSize:  len(testX),
		Duration:  time.Since(start),
	}, nil
}

func newModel(config TrainingConfig, numClasses int) (MLModel, error) {
	switch config.ModelType {
	case ModelTypeRandomForest, "":
		forest := NewRandomForest(config.Forest, numClasses)
		forest.OnTreeFitted = config.OnTreeFitted
		return forest, nil
	case ModelTypeDecisionTree:
		return NewDecisionTree(config.Forest, numClasses), nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", config.ModelType)
	}
}

// SaveArtifacts records the encoder classes in the model and writes both
// files. Each write is atomic; LoadArtifacts detects a pair left mixed by a
// failure between the two.
func SaveArtifacts(model MLModel, encoder *LabelEncoder, modelPath, encoderPath string) error {
	if model.NumClasses() != encoder.Len() {
		return fmt.Errorf("model has %d classes, encoder has %d", model.NumClasses(), encoder.Len())
	}
	if named, ok := model.(classNamer); ok {
		named.setClasses(encoder.Classes())
	}
	if err := model.Save(modelPath); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	if err := encoder.Save(encoderPath); err != nil {
		return fmt.Errorf("save label encoder: %w", err)
	}
	return nil
}

// LoadArtifacts reads a model of whichever type the artifact declares and
// its encoder, and checks they were saved together.
func LoadArtifacts(modelPath, encoderPath string) (MLModel, *LabelEncoder, error) {
	modelType, err := artifactModelType(modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load model: %w", err)
	}
	model, err := LoadModel(modelType, modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load model: %w", err)
	}
	encoder, err := LoadLabelEncoder(encoderPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load label encoder: %w", err)
	}
	if model.NumClasses() != encoder.Len() {
		return nil, nil, fmt.Errorf("model has %d classes, encoder has %d", model.NumClasses(), encoder.Len())
	}
	if classes := model.Info().Classes; len(classes) > 0 && !slices.Equal(classes, encoder.Classes()) {
		return nil, nil, fmt.Errorf("model was saved with classes %v, encoder has %v", classes, encoder.Classes())
	}
	return model, encoder, nil
}
