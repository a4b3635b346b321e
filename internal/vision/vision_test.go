package vision

import (
	"context"
	"image"
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
)

func TestConfident(t *testing.T) {
	faces := []types.Face{
		{Box: types.Box{X: 1}, Confidence: 0.9},
		{Box: types.Box{X: 2}, Confidence: 0.5},
		{Box: types.Box{X: 3}, Confidence: 0.51},
		{Box: types.Box{X: 4}, Confidence: 0.1},
	}

	got := Confident(faces, 0.5)
	if len(got) != 2 {
		t.Fatalf("Confident() kept %d faces, want 2", len(got))
	}
	// Exactly 0.5 is not above the threshold.
	if got[0].Box.X != 1 || got[1].Box.X != 3 {
		t.Errorf("Confident() = %+v", got)
	}

	if got := Confident(nil, 0.5); len(got) != 0 {
		t.Errorf("Confident(nil) = %+v", got)
	}
}

type stubDetector struct{ faces []types.Face }

func (d stubDetector) DetectFaces(context.Context, image.Image) ([]types.Face, error) {
	return d.faces, nil
}

type stubModel struct{}

func (stubModel) Represent(context.Context, image.Image) ([]float64, error) {
	return []float64{1, 2, 3}, nil
}

func (stubModel) Analyze(context.Context, image.Image) (types.Emotion, error) {
	return types.Emotion{Dominant: "happy"}, nil
}

func TestComposite(t *testing.T) {
	var e Engine = Composite{
		FaceExtractor:   stubDetector{faces: []types.Face{{Confidence: 0.8}}},
		Embedder:        stubModel{},
		EmotionAnalyzer: stubModel{},
	}
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	faces, err := e.DetectFaces(ctx, img)
	if err != nil || len(faces) != 1 {
		t.Fatalf("DetectFaces() = %v, %v", faces, err)
	}
	vec, err := e.Represent(ctx, img)
	if err != nil || len(vec) != 3 {
		t.Fatalf("Represent() = %v, %v", vec, err)
	}
	em, err := e.Analyze(ctx, img)
	if err != nil || em.Dominant != "happy" {
		t.Fatalf("Analyze() = %+v, %v", em, err)
	}
}
