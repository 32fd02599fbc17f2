// Package config loads the service configuration from YAML, with
// environment and command-line overrides layered on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"irisapi/logging"
)

const EnvPrefix = "IRISAPI"

type Config struct {
	Dataset struct {
		Path string `yaml:"path"`
	} `yaml:"dataset"`
	Artifacts struct {
		ModelPath   string `yaml:"model_path"`
		EncoderPath string `yaml:"encoder_path"`
	} `yaml:"artifacts"`
	Training struct {
		TestRatio       float64 `yaml:"test_ratio"`
		Seed            int64   `yaml:"seed"`
		ModelType       string  `yaml:"model_type"`
		NumTrees        int     `yaml:"n_estimators"`
		MaxDepth        int     `yaml:"max_depth"`
		MaxFeatures     int     `yaml:"max_features"`
		MinSamplesSplit int     `yaml:"min_samples_split"`
		Workers         int     `yaml:"workers"`
	} `yaml:"training"`
	Predictor struct {
		Reload    string `yaml:"reload"`
		CacheSize int    `yaml:"cache_size"`
	} `yaml:"predictor"`
	HTTP struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log logging.Config `yaml:"log"`
}

// Default mirrors the fixed paths and port the service has always used.
func Default() *Config {
	var c Config
	c.Dataset.Path = "data/iris.csv"
	c.Artifacts.ModelPath = "iris_model.json"
	c.Artifacts.EncoderPath = "label_encoder.json"
	c.Training.TestRatio = 0.2
	c.Training.ModelType = "random_forest"
	c.Training.Seed = 4
	c.Training.NumTrees = 100
	c.Training.MinSamplesSplit = 2
	c.Predictor.Reload = "static"
	c.Predictor.CacheSize = 0
	c.HTTP.Port = 5001
	c.HTTP.Timeout = 30 * time.Second
	c.HTTP.AllowedOrigins = []string{"*"}
	c.Log = logging.DefaultConfig()
	return &c
}

// NewViper returns a viper instance reading IRISAPI_* environment variables,
// e.g. IRISAPI_HTTP_PORT for http.port.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load applies, in order: defaults, the YAML file at path (skipped when path
// is empty), then every key set in v.
func Load(path string, v *viper.Viper) (*Config, error) {
	config := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if v != nil {
		applyOverrides(config, v)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyOverrides(c *Config, v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setString("dataset.path", &c.Dataset.Path)
	setString("artifacts.model_path", &c.Artifacts.ModelPath)
	setString("artifacts.encoder_path", &c.Artifacts.EncoderPath)
	if v.IsSet("training.test_ratio") {
		c.Training.TestRatio = v.GetFloat64("training.test_ratio")
	}
	if v.IsSet("training.seed") {
		c.Training.Seed = v.GetInt64("training.seed")
	}
	setString("training.model_type", &c.Training.ModelType)
	setInt("training.n_estimators", &c.Training.NumTrees)
	setInt("training.max_depth", &c.Training.MaxDepth)
	setInt("training.max_features", &c.Training.MaxFeatures)
	setInt("training.min_samples_split", &c.Training.MinSamplesSplit)
	setInt("training.workers", &c.Training.Workers)
	setString("predictor.reload", &c.Predictor.Reload)
	setInt("predictor.cache_size", &c.Predictor.CacheSize)
	setInt("http.port", &c.HTTP.Port)
	if v.IsSet("http.timeout") {
		c.HTTP.Timeout = v.GetDuration("http.timeout")
	}
	if v.IsSet("http.allowed_origins") {
		c.HTTP.AllowedOrigins = splitList(v.GetStringSlice("http.allowed_origins"))
	}
	setString("database.path", &c.Database.Path)
	setString("log.level", &c.Log.Level)
	setString("log.format", &c.Log.Format)
	setString("log.file", &c.Log.File)
}

// splitList accepts both list values and comma-separated strings, so
// IRISAPI_HTTP_ALLOWED_ORIGINS=a,b yields two origins.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	if c.Dataset.Path == "" {
		errs = append(errs, errors.New("dataset.path is required"))
	}
	if c.Artifacts.ModelPath == "" || c.Artifacts.EncoderPath == "" {
		errs = append(errs, errors.New("artifacts.model_path and artifacts.encoder_path are required"))
	}
	if c.Artifacts.ModelPath != "" && c.Artifacts.ModelPath == c.Artifacts.EncoderPath {
		errs = append(errs, errors.New("artifacts.model_path and artifacts.encoder_path must differ"))
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		errs = append(errs, fmt.Errorf("training.test_ratio must be in (0, 1), got %v", c.Training.TestRatio))
	}
	if c.Training.NumTrees < 0 || c.Training.MaxDepth < 0 || c.Training.MaxFeatures < 0 || c.Training.Workers < 0 {
		errs = append(errs, errors.New("training parameters must not be negative"))
	}
	switch c.Training.ModelType {
	case "random_forest", "decision_tree":
	default:
		errs = append(errs, fmt.Errorf("training.model_type must be random_forest or decision_tree, got %q", c.Training.ModelType))
	}
	switch c.Predictor.Reload {
	case "static", "watch", "per_request":
	default:
		errs = append(errs, fmt.Errorf("predictor.reload must be static, watch or per_request, got %q", c.Predictor.Reload))
	}
	if c.Predictor.CacheSize < 0 {
		errs = append(errs, errors.New("predictor.cache_size must not be negative"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	return errors.Join(errs...)
}
