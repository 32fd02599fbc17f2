package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"testing"

	"irisapi/ml"
	"irisapi/predictor"
)

const setosaQuery = "/predict?sepal_length=5.1&sepal_width=3.5&petal_length=1.4&petal_width=0.2"

func TestHandlePredict(t *testing.T) {
	fake := &fakePredictor{prediction: setosaPrediction()}
	store := &fakeStore{}
	mux := newTestMux(fake, store)

	w := serve(mux, http.MethodGet, setosaQuery)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected only class_name and probabilities, got %v", payload)
	}
	if payload["class_name"] != "Iris-setosa" {
		t.Fatalf("unexpected class: %v", payload["class_name"])
	}
	if proba := payload["probabilities"].([]interface{}); len(proba) != 3 {
		t.Fatalf("unexpected probabilities: %v", proba)
	}

	want := ml.Measurements{SepalLength: 5.1, SepalWidth: 3.5, PetalLength: 1.4, PetalWidth: 0.2}
	if len(fake.calls) != 1 || fake.calls[0] != want {
		t.Fatalf("predictor called with %+v", fake.calls)
	}

	if len(store.predictions) != 1 {
		t.Fatalf("expected prediction to be recorded, got %d", len(store.predictions))
	}
	record := store.predictions[0]
	if record.ClassName != "Iris-setosa" || record.Confidence != 0.9 || record.ModelVersion != "v1" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestHandlePredictMissingParameters(t *testing.T) {
	mux := newTestMux(&fakePredictor{prediction: setosaPrediction()}, nil)
	values := map[string]string{
		"sepal_length": "5.1",
		"sepal_width":  "3.5",
		"petal_length": "1.4",
		"petal_width":  "0.2",
	}

	for _, omit := range ml.FeatureNames() {
		var params []string
		for _, name := range ml.FeatureNames() {
			if name != omit {
				params = append(params, name+"="+values[name])
			}
		}
		w := serve(mux, http.MethodGet, "/predict?"+strings.Join(params, "&"))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("omitting %s: expected 400, got %d", omit, w.Code)
		}
		if msg := decodeError(t, w); msg != "missing required parameters: "+omit {
			t.Fatalf("omitting %s: unexpected error %q", omit, msg)
		}
	}

	w := serve(mux, http.MethodGet, "/predict")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	want := "missing required parameters: sepal_length, sepal_width, petal_length, petal_width"
	if msg := decodeError(t, w); msg != want {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestHandlePredictInvalidValues(t *testing.T) {
	fake := &fakePredictor{prediction: setosaPrediction()}
	mux := newTestMux(fake, nil)

	for _, value := range []string{"abc", "NaN", "Inf", "-Inf", "1e999", "5.1cm"} {
		target := fmt.Sprintf("/predict?sepal_length=%s&sepal_width=3.5&petal_length=1.4&petal_width=0.2", value)
		w := serve(mux, http.MethodGet, target)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("sepal_length=%s: expected 400, got %d", value, w.Code)
		}
		if msg := decodeError(t, w); !strings.HasPrefix(msg, "invalid value for sepal_length") {
			t.Fatalf("sepal_length=%s: unexpected error %q", value, msg)
		}
	}
	if len(fake.calls) != 0 {
		t.Fatalf("predictor should not be called for invalid input, got %d calls", len(fake.calls))
	}
}

func TestHandlePredictAcceptsSpacesAndExtremes(t *testing.T) {
	fake := &fakePredictor{prediction: setosaPrediction()}
	mux := newTestMux(fake, nil)

	w := serve(mux, http.MethodGet, "/predict?sepal_length=%205.1%20&sepal_width=0&petal_length=-1&petal_width=1e6")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := ml.Measurements{SepalLength: 5.1, SepalWidth: 0, PetalLength: -1, PetalWidth: 1e6}
	if fake.calls[0] != want {
		t.Fatalf("unexpected measurements %+v", fake.calls[0])
	}
}

func TestHandlePredictFailureDoesNotLeak(t *testing.T) {
	fake := &fakePredictor{err: errors.New("open /srv/models/iris_model.json: permission denied")}
	store := &fakeStore{}
	mux := newTestMux(fake, store)

	w := serve(mux, http.MethodGet, setosaQuery)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "prediction failed" {
		t.Fatalf("unexpected error %q", msg)
	}
	if len(store.predictions) != 0 {
		t.Fatalf("failed prediction should not be recorded")
	}

	fake.err = predictor.ErrNotReady
	if w := serve(mux, http.MethodGet, setosaQuery); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without a model, got %d", w.Code)
	}
}

func TestHandlePredictInvalidInputFromPredictor(t *testing.T) {
	fake := &fakePredictor{err: fmt.Errorf("%w: petal_width is not finite", predictor.ErrInvalidInput)}
	mux := newTestMux(fake, nil)

	w := serve(mux, http.MethodGet, setosaQuery)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlePredictStoreFailureStillAnswers(t *testing.T) {
	mux := newTestMux(&fakePredictor{prediction: setosaPrediction()}, &fakeStore{err: errors.New("disk full")})

	if w := serve(mux, http.MethodGet, setosaQuery); w.Code != http.StatusOK {
		t.Fatalf("expected 200 when recording fails, got %d", w.Code)
	}
}

func TestParseMeasurementsRejectsNonFinite(t *testing.T) {
	for _, value := range []string{"nan", "+Inf", "infinity"} {
		query := map[string][]string{
			"sepal_length": {"1"},
			"sepal_width":  {"1"},
			"petal_length": {"1"},
			"petal_width":  {value},
		}
		m, err := parseMeasurements(query)
		if err == nil {
			t.Fatalf("%s: expected error, got %+v", value, m)
		}
		if math.IsNaN(m.PetalWidth) {
			t.Fatalf("%s: measurements should be zero on error", value)
		}
	}
}
