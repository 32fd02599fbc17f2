package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"irisapi/db"
	"irisapi/ml"
	"irisapi/predictor"
)

const homeText = "Iris species prediction API"

const (
	defaultPredictionLimit = 50
	maxPredictionLimit     = 1000
)

// Predictor serves predictions from the active model.
type Predictor interface {
	Predict(ctx context.Context, m ml.Measurements) (predictor.Prediction, error)
	Info() (ml.ModelInfo, bool)
	Classes() []string
	Reload() error
}

// Store persists predictions and training runs.
type Store interface {
	SavePrediction(ctx context.Context, p db.PredictionRecord) error
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionRecord, error)
	SaveTrainingLog(ctx context.Context, log db.TrainingLog) error
	LoadTrainingLog(ctx context.Context) ([]db.TrainingLog, error)
}

// Handlers holds the route dependencies. A nil store disables the
// prediction and training logs.
type Handlers struct {
	predictor Predictor
	store     Store
	logger    *zap.Logger

	trainMu  sync.Mutex
	training *ml.TrainingConfig
}

func NewHandlers(p Predictor, store Store, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{predictor: p, store: store, logger: logger}
}

// Register mounts every route on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleHome)
	mux.HandleFunc("GET /predict", h.handlePredict)
	mux.HandleFunc("GET /ws/predict", h.handlePredictStream)

	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/model", h.handleModelInfo)
	mux.HandleFunc("POST /api/model/reload", h.handleReload)
	mux.HandleFunc("POST /api/model/train", h.handleTrain)
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.HandleFunc("GET /api/training-log", h.handleTrainingLog)
}

func (h *Handlers) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(homeText))
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, loaded := h.predictor.Info()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"model_loaded": loaded,
	})
}

type modelResponse struct {
	ml.ModelInfo
	Classes []string `json:"classes"`
}

func (h *Handlers) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := h.predictor.Info()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}
	respondJSON(w, http.StatusOK, modelResponse{ModelInfo: info, Classes: h.predictor.Classes()})
}

func (h *Handlers) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.predictor.Reload(); err != nil {
		h.logger.Error("model reload failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "model reload failed")
		return
	}
	h.handleModelInfo(w, r)
}

func (h *Handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "prediction log disabled")
		return
	}

	limit := defaultPredictionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPredictionLimit)
	}

	records, err := h.store.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.logger.Error("load predictions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load predictions")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "training log disabled")
		return
	}

	logs, err := h.store.LoadTrainingLog(r.Context())
	if err != nil {
		h.logger.Error("load training log failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load training log")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
