package ml

import (
	"errors"
)

// Metrics are held-out scores. Precision and recall are macro averages over
// the classes that appear in either the truth or the predictions.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

func Evaluate(model MLModel, testX [][]float64, testY []int) (Metrics, error) {
	if len(testX) != len(testY) {
		return Metrics{}, errors.New("features and labels size mismatch")
	}
	if len(testX) == 0 {
		return Metrics{}, nil
	}

	numClasses := model.NumClasses()
	truePositive := make([]int, numClasses)
	predictedPositive := make([]int, numClasses)
	actualPositive := make([]int, numClasses)
	var correct int

	for i, feature := range testX {
		label, _, err := model.Predict(feature)
		if err != nil {
			return Metrics{}, err
		}
		actual := testY[i]
		if actual < 0 || actual >= numClasses {
			return Metrics{}, ErrUnknownCode
		}
		predictedPositive[label]++
		actualPositive[actual]++
		if label == actual {
			correct++
			truePositive[label]++
		}
	}

	var metrics Metrics
	metrics.Accuracy = float64(correct) / float64(len(testX))
	var present int
	for c := 0; c < numClasses; c++ {
		if predictedPositive[c] == 0 && actualPositive[c] == 0 {
			continue
		}
		present++
		if predictedPositive[c] > 0 {
			metrics.Precision += float64(truePositive[c]) / float64(predictedPositive[c])
		}
		if actualPositive[c] > 0 {
			metrics.Recall += float64(truePositive[c]) / float64(actualPositive[c])
		}
	}
	if present > 0 {
		metrics.Precision /= float64(present)
		metrics.Recall /= float64(present)
	}
	return metrics, nil
}
