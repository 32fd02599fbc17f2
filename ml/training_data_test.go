package ml

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDataset(t *testing.T) {
	dataset, err := LoadDataset(filepath.Join("testdata", "iris_small.csv"))
	require.NoError(t, err)

	assert.Equal(t, 30, dataset.Len())
	assert.Equal(t, []float64{5.1, 3.5, 1.4, 0.2}, dataset.Features[0])
	assert.Equal(t, "Iris-setosa", dataset.Labels[0])
	assert.Equal(t, "Iris-virginica", dataset.Labels[29])
}

func TestParseDatasetAcceptsSnakeCaseAndColumnOrder(t *testing.T) {
	input := "species,petal_width,petal_length,sepal_width,sepal_length,notes\n" +
		"Iris-setosa,0.2,1.4,3.5,5.1,first\n"
	dataset, err := ParseDataset(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5.1, 3.5, 1.4, 0.2}}, dataset.Features)
	assert.Equal(t, []string{"Iris-setosa"}, dataset.Labels)
}

func TestParseDatasetErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "dataset is empty"},
		{"header only", "SepalLengthCm,SepalWidthCm,PetalLengthCm,PetalWidthCm,Species\n", "dataset is empty"},
		{"missing column", "SepalLengthCm,SepalWidthCm,PetalLengthCm,Species\n5,3,1,a\n", "PetalWidthCm"},
		{"bad number", "SepalLengthCm,SepalWidthCm,PetalLengthCm,PetalWidthCm,Species\n5,x,1,0.2,a\n", "line 2"},
		{"nan", "SepalLengthCm,SepalWidthCm,PetalLengthCm,PetalWidthCm,Species\n5,NaN,1,0.2,a\n", "invalid"},
		{"empty label", "SepalLengthCm,SepalWidthCm,PetalLengthCm,PetalWidthCm,Species\n5,3,1,0.2,\n", "empty Species"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDataset(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTrainTestSplit(t *testing.T) {
	features := make([][]float64, 30)
	labels := make([]int, 30)
	for i := range features {
		features[i] = []float64{float64(i)}
		labels[i] = i
	}

	trainX, trainY, testX, testY, err := TrainTestSplit(features, labels, 0.2, 4)
	require.NoError(t, err)
	assert.Len(t, trainX, 24)
	assert.Len(t, trainY, 24)
	assert.Len(t, testX, 6)
	assert.Len(t, testY, 6)

	seen := make(map[int]bool)
	for _, y := range append(append([]int{}, trainY...), testY...) {
		assert.False(t, seen[y], "row %d used twice", y)
		seen[y] = true
	}
	assert.Len(t, seen, 30)

	_, againY, _, _, err := TrainTestSplit(features, labels, 0.2, 4)
	require.NoError(t, err)
	assert.Equal(t, trainY, againY)

	// A 0.9 ratio still works, it just trains on little.
	trainX, _, testX, _, err = TrainTestSplit(features, labels, 0.9, 4)
	require.NoError(t, err)
	assert.Len(t, trainX, 3)
	assert.Len(t, testX, 27)
}

func TestTrainTestSplitRejectsBadRatios(t *testing.T) {
	features := [][]float64{{1}, {2}}
	labels := []int{0, 1}
	for _, ratio := range []float64{0, 1, -0.5, 1.5, 0.99} {
		_, _, _, _, err := TrainTestSplit(features, labels, ratio, 1)
		assert.Error(t, err, "ratio %v", ratio)
	}
}
