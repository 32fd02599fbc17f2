package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "data/iris.csv", c.Dataset.Path)
	assert.Equal(t, "iris_model.json", c.Artifacts.ModelPath)
	assert.Equal(t, "label_encoder.json", c.Artifacts.EncoderPath)
	assert.Equal(t, 5001, c.HTTP.Port)
	assert.Equal(t, 0.2, c.Training.TestRatio)
	assert.Equal(t, "static", c.Predictor.Reload)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
dataset:
  path: /srv/iris.csv
training:
  test_ratio: 0.3
  n_estimators: 10
predictor:
  reload: watch
http:
  port: 8080
  timeout: 5s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("IRISAPI_HTTP_PORT", "9090")

	c, err := Load(path, NewViper())
	require.NoError(t, err)
	assert.Equal(t, "/srv/iris.csv", c.Dataset.Path)
	assert.Equal(t, 0.3, c.Training.TestRatio)
	assert.Equal(t, 10, c.Training.NumTrees)
	assert.Equal(t, "watch", c.Predictor.Reload)
	assert.Equal(t, 9090, c.HTTP.Port)
	assert.Equal(t, 5*time.Second, c.HTTP.Timeout)
	assert.Equal(t, "debug", c.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, "iris_model.json", c.Artifacts.ModelPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Training.TestRatio = 0.9
	assert.NoError(t, c.Validate())

	c.Training.TestRatio = 1
	c.Training.ModelType = "svm"
	c.Predictor.Reload = "sometimes"
	c.HTTP.Port = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_ratio")
	assert.Contains(t, err.Error(), "training.model_type")
	assert.Contains(t, err.Error(), "predictor.reload")
	assert.Contains(t, err.Error(), "http.port")
}

func TestAllowedOriginsFromEnv(t *testing.T) {
	t.Setenv("IRISAPI_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := Load("", NewViper())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.HTTP.AllowedOrigins)
}

func TestModelTypeFromEnv(t *testing.T) {
	t.Setenv("IRISAPI_TRAINING_MODEL_TYPE", "decision_tree")

	c, err := Load("", NewViper())
	require.NoError(t, err)
	assert.Equal(t, "decision_tree", c.Training.ModelType)
}
