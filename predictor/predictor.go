// Package predictor serves inferences from a trained model and its label
// encoder, reloading them from disk according to an explicit policy.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"irisapi/ml"
)

// ReloadPolicy decides when artifacts are (re)read from disk.
type ReloadPolicy string

const (
	// ReloadStatic loads once at construction; Reload can still be called.
	ReloadStatic ReloadPolicy = "static"
	// ReloadWatch loads at construction and again whenever Watch sees an artifact change.
	ReloadWatch ReloadPolicy = "watch"
	// ReloadPerRequest reads both artifacts on every Predict call.
	ReloadPerRequest ReloadPolicy = "per_request"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotReady     = errors.New("model not loaded")
)

type Config struct {
	ModelPath   string
	EncoderPath string
	Reload      ReloadPolicy
	// CacheSize bounds memoised predictions; 0 disables the cache.
	CacheSize int
}

// Model is the part of a classifier the service needs.
type Model interface {
	PredictProba(features []float64) ([]float64, error)
	NumClasses() int
}

type Prediction struct {
	ClassName     string    `json:"class_name"`
	Probabilities []float64 `json:"probabilities"`
	ClassIndex    int       `json:"-"`
	ModelVersion  string    `json:"-"`
}

// Confidence is the probability of the predicted class.
func (p Prediction) Confidence() float64 {
	if p.ClassIndex < 0 || p.ClassIndex >= len(p.Probabilities) {
		return 0
	}
	return p.Probabilities[p.ClassIndex]
}

// handle is an immutable model/encoder pair. Its cache only ever holds
// predictions of that model, so swapping the handle drops stale entries.
type handle struct {
	model   Model
	encoder *ml.LabelEncoder
	info    ml.ModelInfo
	cache   *lru.Cache[ml.Measurements, Prediction]
}

type Service struct {
	config  Config
	logger  *zap.Logger
	current atomic.Pointer[handle]
}

// New builds a service over the artifacts in config. Unless the policy is
// per_request, the artifacts are loaded immediately and a failure is returned.
func New(config Config, logger *zap.Logger) (*Service, error) {
	if config.Reload == "" {
		config.Reload = ReloadStatic
	}
	switch config.Reload {
	case ReloadStatic, ReloadWatch, ReloadPerRequest:
	default:
		return nil, fmt.Errorf("unknown reload policy %q", config.Reload)
	}
	if config.ModelPath == "" || config.EncoderPath == "" {
		return nil, errors.New("model and encoder paths are required")
	}

	s := newService(config, logger)
	if config.Reload != ReloadPerRequest {
		if err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewStatic wraps an in-memory model, e.g. a test fixture. It never touches
// disk, and Reload fails on it.
func NewStatic(model Model, encoder *ml.LabelEncoder, cacheSize int, logger *zap.Logger) (*Service, error) {
	s := newService(Config{Reload: ReloadStatic, CacheSize: cacheSize}, logger)
	h, err := s.newHandle(model, encoder)
	if err != nil {
		return nil, err
	}
	s.current.Store(h)
	return s, nil
}

func newService(config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{config: config, logger: logger}
}

func (s *Service) newHandle(model Model, encoder *ml.LabelEncoder) (*handle, error) {
	if model == nil || encoder == nil {
		return nil, errors.New("model and encoder are required")
	}
	if model.NumClasses() != encoder.Len() {
		return nil, fmt.Errorf("model has %d classes, encoder has %d", model.NumClasses(), encoder.Len())
	}
	h := &handle{model: model, encoder: encoder}
	if described, ok := model.(interface{ Info() ml.ModelInfo }); ok {
		h.info = described.Info()
	}
	if s.config.CacheSize > 0 && s.config.Reload != ReloadPerRequest {
		cache, err := lru.New[ml.Measurements, Prediction](s.config.CacheSize)
		if err != nil {
			return nil, err
		}
		h.cache = cache
	}
	return h, nil
}

func (s *Service) load() (*handle, error) {
	model, encoder, err := ml.LoadArtifacts(s.config.ModelPath, s.config.EncoderPath)
	if err != nil {
		return nil, err
	}
	return s.newHandle(model, encoder)
}

// Reload reads both artifacts and swaps them in. On failure the previous
// model stays active.
func (s *Service) Reload() error {
	if s.config.ModelPath == "" {
		return errors.New("service has no artifact paths")
	}
	h, err := s.load()
	if err != nil {
		return err
	}
	s.current.Store(h)
	s.logger.Info("model loaded",
		zap.String("version", h.info.Version),
		zap.Int("trees", h.info.NumTrees),
		zap.Strings("classes", h.encoder.Classes()),
	)
	return nil
}

func (s *Service) Predict(ctx context.Context, m ml.Measurements) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	features := ml.FeatureVector(m)
	for i, value := range features {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return Prediction{}, fmt.Errorf("%w: %s is not finite", ErrInvalidInput, ml.FeatureNames()[i])
		}
	}

	var h *handle
	if s.config.Reload == ReloadPerRequest {
		loaded, err := s.load()
		if err != nil {
			return Prediction{}, err
		}
		h = loaded
	} else {
		h = s.current.Load()
		if h == nil {
			return Prediction{}, ErrNotReady
		}
	}

	if h.cache != nil {
		if cached, ok := h.cache.Get(m); ok {
			return clonePrediction(cached), nil
		}
	}

	proba, err := h.model.PredictProba(features)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	if len(proba) != h.encoder.Len() {
		return Prediction{}, fmt.Errorf("model returned %d probabilities for %d classes", len(proba), h.encoder.Len())
	}
	idx := floats.MaxIdx(proba)
	name, err := h.encoder.InverseTransform(idx)
	if err != nil {
		return Prediction{}, err
	}

	prediction := Prediction{
		ClassName:     name,
		Probabilities: proba,
		ClassIndex:    idx,
		ModelVersion:  h.info.Version,
	}
	if h.cache != nil {
		h.cache.Add(m, clonePrediction(prediction))
	}
	return prediction, nil
}

// active returns the handle a prediction would use right now.
func (s *Service) active() *handle {
	if s.config.Reload == ReloadPerRequest {
		h, err := s.load()
		if err != nil {
			return nil
		}
		return h
	}
	return s.current.Load()
}

// Info describes the active model. It reports false until a model is loaded.
func (s *Service) Info() (ml.ModelInfo, bool) {
	h := s.active()
	if h == nil {
		return ml.ModelInfo{}, false
	}
	return h.info, true
}

// Classes lists the class names of the active model in probability order.
func (s *Service) Classes() []string {
	h := s.active()
	if h == nil {
		return nil
	}
	return h.encoder.Classes()
}

func (s *Service) Policy() ReloadPolicy {
	return s.config.Reload
}

func clonePrediction(p Prediction) Prediction {
	p.Probabilities = append([]float64(nil), p.Probabilities...)
	return p
}
