package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// ForestParams configures a RandomForest. Zero values select defaults.
type ForestParams struct {
	NumTrees        int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MaxFeatures     int   `json:"max_features"`
	MinSamplesSplit int   `json:"min_samples_split"`
	Seed            int64 `json:"seed"`
	Workers         int   `json:"-"`
}

func DefaultForestParams() ForestParams {
	return ForestParams{
		NumTrees:        100,
		MinSamplesSplit: 2,
		Seed:            4,
	}
}

// RandomForest is a bagged ensemble of DecisionTrees. Each tree is fit on a
// bootstrap sample and its probabilities are averaged at prediction time.
type RandomForest struct {
	Params ForestParams
	// OnTreeFitted is called after every tree; calls are serialised.
	OnTreeFitted func(done, total int)

	numClasses int
	trees      []*DecisionTree
	info       ModelInfo
}

type forestArtifact struct {
	Version    string       `json:"version"`
	ModelType  string       `json:"model_type"`
	CreatedAt  time.Time    `json:"created_at"`
	Params     ForestParams `json:"params"`
	NumClasses int          `json:"num_classes"`
	Classes    []string     `json:"classes,omitempty"`
	Trees      [][]TreeNode `json:"trees"`
}

// NewRandomForest returns an untrained forest that will predict over at
// least numClasses classes, even if some are absent from the training data.
func NewRandomForest(params ForestParams, numClasses int) *RandomForest {
	return &RandomForest{Params: params, numClasses: numClasses}
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}

	params := rf.Params
	if params.NumTrees <= 0 {
		params.NumTrees = DefaultForestParams().NumTrees
	}
	if params.MaxFeatures <= 0 {
		params.MaxFeatures = int(math.Sqrt(float64(len(features[0]))))
		if params.MaxFeatures < 1 {
			params.MaxFeatures = 1
		}
	}
	numClasses := rf.numClasses
	if n := maxLabel(labels) + 1; n > numClasses {
		numClasses = n
	}

	// Seeds are drawn up-front so the result does not depend on scheduling.
	master := rand.New(rand.NewSource(params.Seed))
	seeds := make([]int64, params.NumTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > params.NumTrees {
		workers = params.NumTrees
	}

	trees := make([]*DecisionTree, params.NumTrees)
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     int
		firstErr error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				tree, err := fitBootstrapTree(features, labels, seeds[i], params, numClasses)
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("tree %d: %w", i, err)
				}
				trees[i] = tree
				done++
				if rf.OnTreeFitted != nil {
					rf.OnTreeFitted(done, params.NumTrees)
				}
				mu.Unlock()
			}
		}()
	}
	for i := range trees {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	rf.Params = params
	rf.numClasses = numClasses
	rf.trees = trees
	rf.info = ModelInfo{
		Version:    uuid.NewString(),
		ModelType:  ModelTypeRandomForest,
		CreatedAt:  time.Now().UTC(),
		NumTrees:   len(trees),
		NumClasses: numClasses,
	}
	return nil
}

func fitBootstrapTree(features [][]float64, labels []int, seed int64, params ForestParams, numClasses int) (*DecisionTree, error) {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]int, len(features))
	for i := range samples {
		samples[i] = rng.Intn(len(features))
	}
	tree := &DecisionTree{
		MaxDepth:        params.MaxDepth,
		MaxFeatures:     params.MaxFeatures,
		MinSamplesSplit: params.MinSamplesSplit,
		rng:             rng,
	}
	if err := tree.fit(features, labels, samples, numClasses); err != nil {
		return nil, err
	}
	tree.rng = nil
	return tree, nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := floats.MaxIdx(proba)
	return label, proba[label], nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotTrained
	}
	sum := make([]float64, rf.numClasses)
	for i, tree := range rf.trees {
		proba, err := tree.leafProba(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		floats.Add(sum, proba)
	}
	floats.Scale(1/float64(len(rf.trees)), sum)
	return sum, nil
}

func (rf *RandomForest) NumClasses() int {
	return rf.numClasses
}

func (rf *RandomForest) Info() ModelInfo {
	return rf.info
}

func (rf *RandomForest) setClasses(classes []string) {
	rf.info.Classes = append([]string(nil), classes...)
}

func (rf *RandomForest) Save(path string) error {
	if len(rf.trees) == 0 {
		return ErrNotTrained
	}
	artifact := forestArtifact{
		Version:    rf.info.Version,
		ModelType:  ModelTypeRandomForest,
		CreatedAt:  rf.info.CreatedAt,
		Params:     rf.Params,
		NumClasses: rf.numClasses,
		Classes:    rf.info.Classes,
		Trees:      make([][]TreeNode, len(rf.trees)),
	}
	for i, tree := range rf.trees {
		artifact.Trees[i] = tree.nodes
	}
	payload, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload, 0o644)
}

func (rf *RandomForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var artifact forestArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return fmt.Errorf("decode model %s: %w", path, err)
	}
	if artifact.ModelType != ModelTypeRandomForest {
		return fmt.Errorf("model %s: unexpected model type %q", path, artifact.ModelType)
	}
	if len(artifact.Trees) == 0 {
		return fmt.Errorf("model %s: %w", path, ErrNotTrained)
	}

	trees := make([]*DecisionTree, len(artifact.Trees))
	for i, nodes := range artifact.Trees {
		if err := validateNodes(nodes, artifact.NumClasses); err != nil {
			return fmt.Errorf("model %s: tree %d: %w", path, i, err)
		}
		trees[i] = &DecisionTree{
			MaxDepth:        artifact.Params.MaxDepth,
			MaxFeatures:     artifact.Params.MaxFeatures,
			MinSamplesSplit: artifact.Params.MinSamplesSplit,
			numClasses:      artifact.NumClasses,
			nodes:           nodes,
		}
	}

	rf.Params = artifact.Params
	rf.numClasses = artifact.NumClasses
	rf.trees = trees
	rf.info = ModelInfo{
		Version:    artifact.Version,
		ModelType:  artifact.ModelType,
		CreatedAt:  artifact.CreatedAt,
		NumTrees:   len(trees),
		NumClasses: artifact.NumClasses,
		Classes:    artifact.Classes,
	}
	return nil
}
