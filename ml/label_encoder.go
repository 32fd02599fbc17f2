package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// LabelEncoder maps class names to dense integer codes. Classes are kept in
// lexicographic order so the code of a class is its position in Classes().
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

type labelEncoderArtifact struct {
	Classes []string `json:"classes"`
}

// NewLabelEncoder returns an encoder fitted on classes.
func NewLabelEncoder(classes ...string) (*LabelEncoder, error) {
	enc := &LabelEncoder{}
	if err := enc.Fit(classes); err != nil {
		return nil, err
	}
	return enc, nil
}

func (e *LabelEncoder) Fit(labels []string) error {
	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0)
	for _, label := range labels {
		label = normalizeLabel(label)
		if label == "" {
			return fmt.Errorf("%w: empty label", ErrUnknownLabel)
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		classes = append(classes, label)
	}
	if len(classes) == 0 {
		return ErrEmptyDataset
	}
	sort.Strings(classes)
	e.setClasses(classes)
	return nil
}

func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	if len(e.classes) == 0 {
		return nil, ErrNotTrained
	}
	codes := make([]int, len(labels))
	for i, label := range labels {
		code, ok := e.index[normalizeLabel(label)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
		}
		codes[i] = code
	}
	return codes, nil
}

func (e *LabelEncoder) InverseTransform(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	return e.classes[code], nil
}

func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

func (e *LabelEncoder) Len() int {
	return len(e.classes)
}

func (e *LabelEncoder) Save(path string) error {
	if len(e.classes) == 0 {
		return ErrNotTrained
	}
	payload, err := json.Marshal(labelEncoderArtifact{Classes: e.classes})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload, 0o644)
}

func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact labelEncoderArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("decode label encoder %s: %w", path, err)
	}
	if len(artifact.Classes) == 0 {
		return nil, fmt.Errorf("label encoder %s: %w", path, ErrNotTrained)
	}
	if !sort.StringsAreSorted(artifact.Classes) {
		return nil, fmt.Errorf("label encoder %s: classes are not sorted", path)
	}
	enc := &LabelEncoder{}
	enc.setClasses(artifact.Classes)
	if len(enc.index) != len(artifact.Classes) {
		return nil, fmt.Errorf("label encoder %s: duplicate classes", path)
	}
	return enc, nil
}

func (e *LabelEncoder) setClasses(classes []string) {
	e.classes = classes
	e.index = make(map[string]int, len(classes))
	for i, class := range classes {
		e.index[class] = i
	}
}

func normalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}
