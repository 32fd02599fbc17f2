package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"irisapi/db"
	"irisapi/ml"
)

var errTrainingDisabled = errors.New("training is not configured")

// SetTrainingConfig enables POST /api/model/train. The artifacts are written
// to config's paths and the predictor is reloaded from them.
func (h *Handlers) SetTrainingConfig(config ml.TrainingConfig) {
	h.trainMu.Lock()
	defer h.trainMu.Unlock()
	h.training = &config
}

func (h *Handlers) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !h.trainMu.TryLock() {
		respondError(w, http.StatusConflict, "training already in progress")
		return
	}
	defer h.trainMu.Unlock()

	result, err := h.trainModel(r.Context())
	switch {
	case errors.Is(err, errTrainingDisabled):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.logger.Error("training failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "training failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// trainModel must be called with trainMu held.
func (h *Handlers) trainModel(ctx context.Context) (*ml.TrainingResult, error) {
	if h.training == nil {
		return nil, errTrainingDisabled
	}

	result, err := ml.Train(ctx, *h.training)
	if err != nil {
		return nil, err
	}
	h.logger.Info("model trained",
		zap.String("version", result.Info.Version),
		zap.Float64("accuracy", result.Metrics.Accuracy),
		zap.Duration("duration", result.Duration),
	)

	if h.store != nil {
		if err := h.store.SaveTrainingLog(ctx, db.NewTrainingLog(result)); err != nil {
			h.logger.Warn("save training log failed", zap.Error(err))
		}
	}

	if err := h.predictor.Reload(); err != nil {
		return nil, err
	}
	return result, nil
}
