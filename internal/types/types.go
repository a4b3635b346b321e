package types

import (
	"fmt"
	"image"
	"strings"
)

// LabelSeparator joins a student's name and id into a classifier label.
const LabelSeparator = "_"

// Student is the composite identity key of an enrolled student.
type Student struct {
	Name string `json:"name"`
	ID   string `json:"student_id"`
}

// Label returns the classifier class string "name_id".
func (s Student) Label() string {
	return s.Name + LabelSeparator + s.ID
}

func (s Student) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.ID)
}

// ParseLabel splits a classifier label on the rightmost separator.
// Names may contain underscores, ids may not.
func ParseLabel(label string) (Student, error) {
	i := strings.LastIndex(label, LabelSeparator)
	if i < 0 {
		return Student{}, fmt.Errorf("malformed label %q: missing %q", label, LabelSeparator)
	}
	return Student{Name: label[:i], ID: label[i+len(LabelSeparator):]}, nil
}

// Box is a face bounding box in pixel coordinates of the source image.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box into an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Face matches the JSON structure the detection engine returns per face.
type Face struct {
	Box        Box     `json:"facial_area"`
	Confidence float64 `json:"confidence"` // [0,1]
}

// Emotion is the result of the emotion model for a single face crop.
type Emotion struct {
	Dominant string             `json:"dominant_emotion"`
	Scores   map[string]float64 `json:"emotion,omitempty"`
}

// ErrorResult captures the error object returned by the engine on failure
type ErrorResult struct {
	Error string `json:"error"`
}
