package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/andresmejia3/rollcall/internal/classifier"
	"github.com/andresmejia3/rollcall/internal/types"
)

// SchemaVersion is the snapshot layout written by this build. Snapshots with
// any other version are rejected; a bump must ship a migration here.
const SchemaVersion = 1

// ErrCorruptSnapshot marks a persisted snapshot that exists but cannot be used.
var ErrCorruptSnapshot = errors.New("corrupt model snapshot")

// Store persists the model snapshot as one unit.
type Store interface {
	// Load returns the latest snapshot, or an empty one if nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)
	// Save atomically replaces the persisted snapshot.
	Save(ctx context.Context, s *Snapshot) error
	// Reset deletes the persisted snapshot.
	Reset(ctx context.Context) error
	Close(ctx context.Context)
}

// Sample is one face embedding with its classifier label.
type Sample struct {
	Label     string    `json:"label"`
	Embedding []float64 `json:"embedding"`
}

// Snapshot is the full persisted state: both splits, the label encoder and
// the classifier.
type Snapshot struct {
	SchemaVersion int                     `json:"schema_version"`
	Dimension     int                     `json:"dimension"`
	Train         []Sample                `json:"train"`
	Test          []Sample                `json:"test"`
	Encoder       classifier.LabelEncoder `json:"label_encoder"`
	Classifier    *classifier.Softmax     `json:"classifier"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Empty returns the snapshot used on first run.
func Empty() *Snapshot {
	return &Snapshot{
		SchemaVersion: SchemaVersion,
		Classifier:    classifier.NewSoftmax(),
	}
}

// Validate checks the invariants a loaded snapshot must satisfy.
func (s *Snapshot) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, this build reads %d", ErrCorruptSnapshot, s.SchemaVersion, SchemaVersion)
	}
	if s.Classifier == nil {
		s.Classifier = classifier.NewSoftmax()
	}
	for _, split := range [][]Sample{s.Train, s.Test} {
		for i, smp := range split {
			if len(smp.Embedding) != s.Dimension {
				return fmt.Errorf("%w: sample %d (%s) has dimension %d, snapshot has %d",
					ErrCorruptSnapshot, i, smp.Label, len(smp.Embedding), s.Dimension)
			}
		}
	}
	if s.Classifier.Fitted() && s.Classifier.NumClasses() != len(s.Encoder.Classes) {
		return fmt.Errorf("%w: classifier has %d classes, encoder has %d",
			ErrCorruptSnapshot, s.Classifier.NumClasses(), len(s.Encoder.Classes))
	}
	return nil
}

// Append adds a batch to both splits. The first batch ever appended fixes
// the embedding dimension of the snapshot.
func (s *Snapshot) Append(train, test []Sample) error {
	for _, smp := range append(append([]Sample{}, train...), test...) {
		if s.Dimension == 0 {
			s.Dimension = len(smp.Embedding)
		}
		if len(smp.Embedding) != s.Dimension {
			return fmt.Errorf("embedding dimension %d does not match snapshot dimension %d", len(smp.Embedding), s.Dimension)
		}
	}
	s.Train = append(s.Train, train...)
	s.Test = append(s.Test, test...)
	return nil
}

// Trained reports whether the classifier can be used for inference.
func (s *Snapshot) Trained() bool {
	return s.Classifier != nil && s.Classifier.Fitted() && s.Encoder.Fitted()
}

// TrainLabels returns the label of every training sample, in order.
func (s *Snapshot) TrainLabels() []string {
	return labels(s.Train)
}

// TestLabels returns the label of every test sample, in order.
func (s *Snapshot) TestLabels() []string {
	return labels(s.Test)
}

// DistinctTrainLabels counts the classes present in the training split.
func (s *Snapshot) DistinctTrainLabels() int {
	return distinct(s.Train)
}

// DistinctTestLabels counts the classes present in the test split.
func (s *Snapshot) DistinctTestLabels() int {
	return distinct(s.Test)
}

// Enrollment summarizes the samples held for one student.
type Enrollment struct {
	Student    types.Student `json:"student"`
	Label      string        `json:"label"`
	TrainCount int           `json:"train_count"`
	TestCount  int           `json:"test_count"`
}

// Enrollments lists every enrolled label with its split counts, sorted by label.
func (s *Snapshot) Enrollments() []Enrollment {
	byLabel := make(map[string]*Enrollment)
	get := func(label string) *Enrollment {
		e, ok := byLabel[label]
		if !ok {
			st, _ := types.ParseLabel(label) // malformed labels keep an empty key
			e = &Enrollment{Student: st, Label: label}
			byLabel[label] = e
		}
		return e
	}
	for _, smp := range s.Train {
		get(smp.Label).TrainCount++
	}
	for _, smp := range s.Test {
		get(smp.Label).TestCount++
	}

	out := make([]Enrollment, 0, len(byLabel))
	for _, e := range byLabel {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Train = cloneSamples(s.Train)
	c.Test = cloneSamples(s.Test)
	c.Encoder.Classes = append([]string(nil), s.Encoder.Classes...)
	if s.Classifier != nil {
		m := *s.Classifier
		m.Weights = make([][]float64, len(s.Classifier.Weights))
		for i, row := range s.Classifier.Weights {
			m.Weights[i] = append([]float64(nil), row...)
		}
		m.Bias = append([]float64(nil), s.Classifier.Bias...)
		c.Classifier = &m
	}
	return &c
}

func cloneSamples(in []Sample) []Sample {
	if in == nil {
		return nil
	}
	out := make([]Sample, len(in))
	for i, smp := range in {
		out[i] = Sample{Label: smp.Label, Embedding: append([]float64(nil), smp.Embedding...)}
	}
	return out
}

func labels(samples []Sample) []string {
	out := make([]string, len(samples))
	for i, smp := range samples {
		out[i] = smp.Label
	}
	return out
}

func distinct(samples []Sample) int {
	seen := make(map[string]struct{})
	for _, smp := range samples {
		seen[smp.Label] = struct{}{}
	}
	return len(seen)
}
