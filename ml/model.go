package ml

import (
	"errors"
	"time"
)

const (
	ModelTypeDecisionTree = "decision_tree"
	ModelTypeRandomForest = "random_forest"
)

var (
	ErrNotTrained   = errors.New("model not trained")
	ErrEmptyDataset = errors.New("dataset is empty")
	ErrUnknownLabel = errors.New("unknown label")
	ErrUnknownCode  = errors.New("unknown class code")
)

// MLModel is a multi-class classifier over dense float features.
type MLModel interface {
	Train(features [][]float64, labels []int) error
	// Predict returns the arg-max class and its probability.
	Predict(features []float64) (int, float64, error)
	PredictProba(features []float64) ([]float64, error)
	NumClasses() int
	Info() ModelInfo
	Save(path string) error
	Load(path string) error
}

// classNamer lets SaveArtifacts record the encoder classes in the model
// artifact, so a model/encoder pair from different runs is detected on load.
type classNamer interface {
	setClasses(classes []string)
}

// ModelInfo describes a persisted model.
type ModelInfo struct {
	Version    string    `json:"version"`
	ModelType  string    `json:"model_type"`
	CreatedAt  time.Time `json:"created_at"`
	NumTrees   int       `json:"n_estimators"`
	NumClasses int       `json:"num_classes"`
	Classes    []string  `json:"classes,omitempty"`
}
