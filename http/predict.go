package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"irisapi/db"
	"irisapi/ml"
	"irisapi/predictor"
)

// parseMeasurements reads the four required query parameters. Every
// missing name is reported at once.
func parseMeasurements(query url.Values) (ml.Measurements, error) {
	names := ml.FeatureNames()
	raw := make([]string, len(names))
	var missing []string
	for i, name := range names {
		raw[i] = strings.TrimSpace(query.Get(name))
		if raw[i] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return ml.Measurements{}, fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}

	values := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(raw[i], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return ml.Measurements{}, fmt.Errorf("invalid value for %s: %q", name, raw[i])
		}
		values[i] = v
	}

	return ml.Measurements{
		SepalLength: values[0],
		SepalWidth:  values[1],
		PetalLength: values[2],
		PetalWidth:  values[3],
	}, nil
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	m, err := parseMeasurements(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	prediction, status, err := h.predict(r.Context(), m)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, prediction)
}

// predict runs one prediction and records it. On failure it returns the
// status and the message that is safe to show a client.
func (h *Handlers) predict(ctx context.Context, m ml.Measurements) (predictor.Prediction, int, error) {
	requestID := GetRequestID(ctx)

	prediction, err := h.predictor.Predict(ctx, m)
	if err != nil {
		if errors.Is(err, predictor.ErrInvalidInput) {
			return predictor.Prediction{}, http.StatusBadRequest, err
		}
		h.logger.Error("prediction failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return predictor.Prediction{}, http.StatusInternalServerError, errors.New("prediction failed")
	}

	if h.store != nil {
		record := db.PredictionRecord{
			RequestID:    requestID,
			SepalLength:  m.SepalLength,
			SepalWidth:   m.SepalWidth,
			PetalLength:  m.PetalLength,
			PetalWidth:   m.PetalWidth,
			ClassName:    prediction.ClassName,
			Confidence:   prediction.Confidence(),
			ModelVersion: prediction.ModelVersion,
		}
		if err := h.store.SavePrediction(context.WithoutCancel(ctx), record); err != nil {
			h.logger.Warn("save prediction failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	}

	return prediction, http.StatusOK, nil
}
