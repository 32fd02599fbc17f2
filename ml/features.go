package ml

// Measurements are the four flower dimensions, in centimetres.
type Measurements struct {
	SepalLength float64 `json:"sepal_length"`
	SepalWidth  float64 `json:"sepal_width"`
	PetalLength float64 `json:"petal_length"`
	PetalWidth  float64 `json:"petal_width"`
}

// FeatureVector orders measurements the way the model was trained on them.
func FeatureVector(m Measurements) []float64 {
	return []float64{
		m.SepalLength,
		m.SepalWidth,
		m.PetalLength,
		m.PetalWidth,
	}
}

// FeatureNames returns the query/JSON names of the features in vector order.
func FeatureNames() []string {
	return []string{
		"sepal_length",
		"sepal_width",
		"petal_length",
		"petal_width",
	}
}
