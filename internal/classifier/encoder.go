package classifier

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFitted is returned when an encoder or model is used before Fit.
	ErrNotFitted = errors.New("not fitted")
	// ErrUnknownLabel is returned when encoding a label outside the fitted domain.
	ErrUnknownLabel = errors.New("unknown label")
)

// LabelEncoder maps string labels to dense class indices in sorted order.
// The zero value is an unfit encoder.
type LabelEncoder struct {
	Classes []string `json:"classes"`
}

// Fit replaces the encoder domain with the distinct values of labels.
func (e *LabelEncoder) Fit(labels []string) {
	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		classes = append(classes, l)
	}
	sort.Strings(classes)
	e.Classes = classes
}

// FitTransform fits the encoder and encodes labels in one step.
func (e *LabelEncoder) FitTransform(labels []string) []int {
	e.Fit(labels)
	out, _ := e.Transform(labels) // every label is in the domain just fitted
	return out
}

// Fitted reports whether the encoder has a non-empty domain.
func (e *LabelEncoder) Fitted() bool {
	return len(e.Classes) > 0
}

// Encode returns the class index of label.
func (e *LabelEncoder) Encode(label string) (int, error) {
	if !e.Fitted() {
		return 0, fmt.Errorf("label encoder: %w", ErrNotFitted)
	}
	i := sort.SearchStrings(e.Classes, label)
	if i == len(e.Classes) || e.Classes[i] != label {
		return 0, fmt.Errorf("label encoder: %w %q", ErrUnknownLabel, label)
	}
	return i, nil
}

// Decode returns the label of class index i.
func (e *LabelEncoder) Decode(i int) (string, error) {
	if !e.Fitted() {
		return "", fmt.Errorf("label encoder: %w", ErrNotFitted)
	}
	if i < 0 || i >= len(e.Classes) {
		return "", fmt.Errorf("label encoder: class index %d out of range [0,%d)", i, len(e.Classes))
	}
	return e.Classes[i], nil
}

// Transform encodes every label, failing on the first unknown one.
func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		idx, err := e.Encode(l)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}
