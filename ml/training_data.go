package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

// Dataset is a labeled table of measurements loaded wholesale into memory.
type Dataset struct {
	Features [][]float64
	Labels   []string
}

func (d *Dataset) Len() int {
	return len(d.Labels)
}

// Header names accepted for each column, in FeatureNames order, then the label.
var datasetColumns = [][]string{
	{"SepalLengthCm", "sepal_length"},
	{"SepalWidthCm", "sepal_width"},
	{"PetalLengthCm", "petal_length"},
	{"PetalWidthCm", "petal_width"},
	{"Species", "species"},
}

func LoadDataset(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dataset, err := ParseDataset(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dataset, nil
}

// ParseDataset reads a CSV with a header row. Columns not in the schema are
// ignored; every schema column must be present.
func ParseDataset(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	positions, err := columnPositions(headers)
	if err != nil {
		return nil, err
	}
	featureCount := len(positions) - 1
	labelPos := positions[featureCount]

	dataset := &Dataset{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)

		features := make([]float64, featureCount)
		for i := 0; i < featureCount; i++ {
			raw := strings.TrimSpace(row[positions[i]])
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, fmt.Errorf("line %d: invalid %s value %q", line, headers[positions[i]], raw)
			}
			features[i] = value
		}
		label := strings.TrimSpace(row[labelPos])
		if label == "" {
			return nil, fmt.Errorf("line %d: empty %s", line, headers[labelPos])
		}
		dataset.Features = append(dataset.Features, features)
		dataset.Labels = append(dataset.Labels, label)
	}

	if dataset.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	return dataset, nil
}

func columnPositions(headers []string) ([]int, error) {
	lookup := make(map[string]int, len(headers))
	for i, h := range headers {
		lookup[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	positions := make([]int, len(datasetColumns))
	var missing []string
	for i, aliases := range datasetColumns {
		positions[i] = -1
		for _, alias := range aliases {
			if pos, ok := lookup[alias]; ok {
				positions[i] = pos
				break
			}
		}
		if positions[i] < 0 {
			missing = append(missing, aliases[0])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return positions, nil
}

// TrainTestSplit shuffles rows with a seeded permutation and holds out
// ceil(testRatio*n) of them. The same seed always yields the same split.
func TrainTestSplit(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int, err error) {
	if len(features) != len(labels) {
		return nil, nil, nil, nil, errors.New("features and labels size mismatch")
	}
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, nil, nil, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	n := len(features)
	testSize := int(math.Ceil(testRatio * float64(n)))
	trainSize := n - testSize
	if trainSize <= 0 || testSize <= 0 {
		return nil, nil, nil, nil, fmt.Errorf("test ratio %v leaves an empty subset for %d rows", testRatio, n)
	}

	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	trainX = make([][]float64, 0, trainSize)
	trainY = make([]int, 0, trainSize)
	testX = make([][]float64, 0, testSize)
	testY = make([]int, 0, testSize)
	for i, idx := range indices {
		if i < testSize {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		} else {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY, nil
}
