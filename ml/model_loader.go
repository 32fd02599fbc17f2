package ml

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadModel reads an artifact written by the Save method of modelType.
// An empty modelType means random_forest.
func LoadModel(modelType, path string) (MLModel, error) {
	switch modelType {
	case ModelTypeDecisionTree:
		model := &DecisionTree{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	case ModelTypeRandomForest, "":
		model := &RandomForest{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

// artifactModelType reads the model_type field of a saved artifact.
func artifactModelType(path string) (string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var header struct {
		ModelType string `json:"model_type"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return "", fmt.Errorf("decode model %s: %w", path, err)
	}
	return header.ModelType, nil
}
