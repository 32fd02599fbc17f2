package ml

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func loadSmallIris(t *testing.T) ([][]float64, []int, *LabelEncoder) {
	t.Helper()
	dataset, err := LoadDataset(filepath.Join("testdata", "iris_small.csv"))
	require.NoError(t, err)
	encoder := &LabelEncoder{}
	require.NoError(t, encoder.Fit(dataset.Labels))
	labels, err := encoder.Transform(dataset.Labels)
	require.NoError(t, err)
	return dataset.Features, labels, encoder
}

func TestRandomForestProbabilities(t *testing.T) {
	features, labels, encoder := loadSmallIris(t)

	model := NewRandomForest(ForestParams{NumTrees: 15, Seed: 7}, encoder.Len())
	require.NoError(t, model.Train(features, labels))

	assert.Equal(t, 15, model.Info().NumTrees)
	assert.Equal(t, 3, model.NumClasses())
	assert.NotEmpty(t, model.Info().Version)

	for _, row := range features {
		proba, err := model.PredictProba(row)
		require.NoError(t, err)
		require.Len(t, proba, encoder.Len())
		assert.InDelta(t, 1.0, floats.Sum(proba), 1e-9)
		for _, p := range proba {
			assert.GreaterOrEqual(t, p, 0.0)
		}
	}
}

func TestRandomForestDeterministicAcrossWorkers(t *testing.T) {
	features, labels, encoder := loadSmallIris(t)

	serial := NewRandomForest(ForestParams{NumTrees: 12, Seed: 4, Workers: 1}, encoder.Len())
	require.NoError(t, serial.Train(features, labels))
	parallel := NewRandomForest(ForestParams{NumTrees: 12, Seed: 4, Workers: 4}, encoder.Len())
	require.NoError(t, parallel.Train(features, labels))

	for _, row := range features {
		a, err := serial.PredictProba(row)
		require.NoError(t, err)
		b, err := parallel.PredictProba(row)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestRandomForestProgressHook(t *testing.T) {
	features, labels, encoder := loadSmallIris(t)

	var calls, last int
	model := NewRandomForest(ForestParams{NumTrees: 5, Workers: 2}, encoder.Len())
	model.OnTreeFitted = func(done, total int) {
		calls++
		last = done
		assert.Equal(t, 5, total)
	}
	require.NoError(t, model.Train(features, labels))
	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, last)
}

func TestRandomForestSaveLoad(t *testing.T) {
	features, labels, encoder := loadSmallIris(t)
	model := NewRandomForest(ForestParams{NumTrees: 8, Seed: 1}, encoder.Len())
	require.NoError(t, model.Train(features, labels))

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, model.Save(path))

	loaded, err := LoadModel(ModelTypeRandomForest, path)
	require.NoError(t, err)
	forest, ok := loaded.(*RandomForest)
	require.True(t, ok)
	assert.Equal(t, model.Info().Version, forest.Info().Version)
	assert.Equal(t, model.Params, forest.Params)

	for _, row := range features {
		want, err := model.PredictProba(row)
		require.NoError(t, err)
		got, err := forest.PredictProba(row)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRandomForestKeepsUnseenClasses(t *testing.T) {
	features := [][]float64{{1}, {2}, {8}, {9}}
	labels := []int{0, 0, 1, 1}

	model := NewRandomForest(ForestParams{NumTrees: 3}, 3)
	require.NoError(t, model.Train(features, labels))

	proba, err := model.PredictProba([]float64{1.5})
	require.NoError(t, err)
	assert.Len(t, proba, 3)
	assert.Zero(t, proba[2])
}

func TestRandomForestRejectsBadInput(t *testing.T) {
	model := NewRandomForest(DefaultForestParams(), 2)
	assert.ErrorIs(t, model.Train(nil, nil), ErrEmptyDataset)
	assert.Error(t, model.Train([][]float64{{1, 2}, {1}}, []int{0, 1}))
	_, err := model.PredictProba([]float64{1})
	assert.ErrorIs(t, err, ErrNotTrained)
}
