package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// DecisionTree is a CART classifier using gini impurity. Nodes are stored
// flat; children are absolute indices into the node slice.
type DecisionTree struct {
	MaxDepth        int
	MaxFeatures     int
	MinSamplesSplit int

	numClasses int
	rng        *rand.Rand
	nodes      []TreeNode
	info       ModelInfo
}

// NewDecisionTree returns an untrained tree over at least numClasses
// classes. A positive MaxFeatures samples features with params.Seed.
func NewDecisionTree(params ForestParams, numClasses int) *DecisionTree {
	dt := &DecisionTree{
		MaxDepth:        params.MaxDepth,
		MaxFeatures:     params.MaxFeatures,
		MinSamplesSplit: params.MinSamplesSplit,
		numClasses:      numClasses,
	}
	if params.MaxFeatures > 0 {
		dt.rng = rand.New(rand.NewSource(params.Seed))
	}
	return dt
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	ClassLabel int       `json:"class_label"`
	IsLeaf     bool      `json:"is_leaf"`
	Proba      []float64 `json:"proba,omitempty"`
}

type treeArtifact struct {
	Version    string     `json:"version"`
	ModelType  string     `json:"model_type"`
	CreatedAt  time.Time  `json:"created_at"`
	NumClasses int        `json:"num_classes"`
	Classes    []string   `json:"classes,omitempty"`
	Nodes      []TreeNode `json:"nodes"`
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	samples := make([]int, len(features))
	for i := range samples {
		samples[i] = i
	}
	numClasses := max(dt.numClasses, maxLabel(labels)+1)
	if err := dt.fit(features, labels, samples, numClasses); err != nil {
		return err
	}
	dt.info = ModelInfo{
		Version:    uuid.NewString(),
		ModelType:  ModelTypeDecisionTree,
		CreatedAt:  time.Now().UTC(),
		NumTrees:   1,
		NumClasses: numClasses,
	}
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.leafProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := floats.MaxIdx(proba)
	return label, proba[label], nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	proba, err := dt.leafProba(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), proba...), nil
}

func (dt *DecisionTree) NumClasses() int {
	return dt.numClasses
}

func (dt *DecisionTree) Info() ModelInfo {
	return dt.info
}

func (dt *DecisionTree) setClasses(classes []string) {
	dt.info.Classes = append([]string(nil), classes...)
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return ErrNotTrained
	}
	payload, err := json.Marshal(treeArtifact{
		Version:    dt.info.Version,
		ModelType:  ModelTypeDecisionTree,
		CreatedAt:  dt.info.CreatedAt,
		NumClasses: dt.numClasses,
		Classes:    dt.info.Classes,
		Nodes:      dt.nodes,
	})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload, 0o644)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var artifact treeArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return fmt.Errorf("decode tree %s: %w", path, err)
	}
	if artifact.ModelType != "" && artifact.ModelType != ModelTypeDecisionTree {
		return fmt.Errorf("tree %s: unexpected model type %q", path, artifact.ModelType)
	}
	if err := validateNodes(artifact.Nodes, artifact.NumClasses); err != nil {
		return fmt.Errorf("tree %s: %w", path, err)
	}
	dt.nodes = artifact.Nodes
	dt.numClasses = artifact.NumClasses
	dt.info = ModelInfo{
		Version:    artifact.Version,
		ModelType:  ModelTypeDecisionTree,
		CreatedAt:  artifact.CreatedAt,
		NumTrees:   1,
		NumClasses: artifact.NumClasses,
		Classes:    artifact.Classes,
	}
	return nil
}

// leafProba walks the tree and returns the leaf distribution without copying it.
func (dt *DecisionTree) leafProba(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotTrained
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Proba, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, samples []int, numClasses int) error {
	if numClasses <= 0 {
		return errors.New("number of classes must be positive")
	}
	if len(samples) == 0 {
		return ErrEmptyDataset
	}
	minSplit := dt.MinSamplesSplit
	if minSplit < 2 {
		minSplit = 2
	}
	b := &treeBuilder{
		tree:       dt,
		features:   features,
		labels:     labels,
		numClasses: numClasses,
		minSplit:   minSplit,
	}
	b.build(samples, 0)
	dt.nodes = b.nodes
	dt.numClasses = numClasses
	return nil
}

type treeBuilder struct {
	tree       *DecisionTree
	features   [][]float64
	labels     []int
	numClasses int
	minSplit   int
	nodes      []TreeNode
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
}

func (b *treeBuilder) build(samples []int, depth int) int {
	counts := b.classCounts(samples)
	nodeIdx := len(b.nodes)
	b.nodes = append(b.nodes, leafNode(counts))

	if b.tree.MaxDepth > 0 && depth >= b.tree.MaxDepth {
		return nodeIdx
	}
	if len(samples) < b.minSplit || isPure(counts) {
		return nodeIdx
	}

	best, ok := b.findBestSplit(samples)
	if !ok {
		return nodeIdx
	}
	left, right := b.partition(samples, best)
	if len(left) == 0 || len(right) == 0 {
		return nodeIdx
	}

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)

	// b.nodes may have been reallocated by the recursive calls.
	node := &b.nodes[nodeIdx]
	node.IsLeaf = false
	node.FeatureIdx = best.feature
	node.Threshold = best.threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.Proba = nil
	return nodeIdx
}

// findBestSplit draws candidate features in random order (when the tree has
// an rng) and stops after MaxFeatures non-constant ones were scanned.
func (b *treeBuilder) findBestSplit(samples []int) (split, bool) {
	featureCount := len(b.features[0])
	var order []int
	if b.tree.rng != nil {
		order = b.tree.rng.Perm(featureCount)
	} else {
		order = make([]int, featureCount)
		for i := range order {
			order[i] = i
		}
	}
	maxFeatures := b.tree.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > featureCount {
		maxFeatures = featureCount
	}

	best := split{feature: -1, impurity: math.Inf(1)}
	sorted := make([]int, len(samples))
	visited := 0
	for _, featureIdx := range order {
		if visited >= maxFeatures {
			break
		}
		copy(sorted, samples)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.features[sorted[i]][featureIdx] < b.features[sorted[j]][featureIdx]
		})
		if b.features[sorted[0]][featureIdx] == b.features[sorted[len(sorted)-1]][featureIdx] {
			continue
		}
		visited++
		candidate, ok := b.scanFeature(sorted, featureIdx)
		if ok && candidate.impurity < best.impurity {
			best = candidate
		}
	}
	return best, best.feature >= 0
}

// scanFeature sweeps the sorted samples once, moving one sample at a time
// from the right partition to the left, and keeps the midpoint threshold
// with the lowest weighted gini.
func (b *treeBuilder) scanFeature(sorted []int, featureIdx int) (split, bool) {
	left := make([]float64, b.numClasses)
	right := b.classCounts(sorted)
	total := len(sorted)
	best := split{feature: -1, impurity: math.Inf(1)}

	for i := 0; i < total-1; i++ {
		label := b.labels[sorted[i]]
		left[label]++
		right[label]--

		current := b.features[sorted[i]][featureIdx]
		next := b.features[sorted[i+1]][featureIdx]
		if current == next {
			continue
		}
		leftWeight := float64(i + 1)
		rightWeight := float64(total - i - 1)
		impurity := (leftWeight*gini(left, leftWeight) + rightWeight*gini(right, rightWeight)) / float64(total)
		if impurity < best.impurity {
			threshold := current + (next-current)/2
			if threshold >= next {
				threshold = current
			}
			best = split{feature: featureIdx, threshold: threshold, impurity: impurity}
		}
	}
	return best, best.feature >= 0
}

func (b *treeBuilder) partition(samples []int, s split) ([]int, []int) {
	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, idx := range samples {
		if b.features[idx][s.feature] <= s.threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	return left, right
}

func (b *treeBuilder) classCounts(samples []int) []float64 {
	counts := make([]float64, b.numClasses)
	for _, idx := range samples {
		counts[b.labels[idx]]++
	}
	return counts
}

func leafNode(counts []float64) TreeNode {
	proba := append([]float64(nil), counts...)
	if total := floats.Sum(proba); total > 0 {
		floats.Scale(1/total, proba)
	}
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		ClassLabel: floats.MaxIdx(proba),
		IsLeaf:     true,
		Proba:      proba,
	}
}

func gini(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := count / total
		impurity -= prob * prob
	}
	return impurity
}

func isPure(counts []float64) bool {
	nonZero := 0
	for _, count := range counts {
		if count > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func maxLabel(labels []int) int {
	best := 0
	for _, label := range labels {
		if label > best {
			best = label
		}
	}
	return best
}

func validateTrainingSet(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return ErrEmptyDataset
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}
	for i, label := range labels {
		if label < 0 {
			return fmt.Errorf("row %d has negative label %d", i, label)
		}
	}
	return nil
}

func validateNodes(nodes []TreeNode, numClasses int) error {
	if len(nodes) == 0 {
		return ErrNotTrained
	}
	if numClasses <= 0 {
		return errors.New("number of classes must be positive")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			if len(node.Proba) != numClasses {
				return fmt.Errorf("leaf %d has %d probabilities, expected %d", i, len(node.Proba), numClasses)
			}
			continue
		}
		if node.LeftChild <= i || node.LeftChild >= len(nodes) || node.RightChild <= i || node.RightChild >= len(nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}
