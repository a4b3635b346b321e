// Package vision defines the face capabilities the pipelines consume: a face
// detector, an embedding model and an emotion model. Implementations live in
// the worker package (Python engine) and in this package (OpenCV DNN detector).
package vision

import (
	"context"
	"image"

	"github.com/andresmejia3/rollcall/internal/types"
)

// FaceExtractor finds faces in a photo.
type FaceExtractor interface {
	DetectFaces(ctx context.Context, img image.Image) ([]types.Face, error)
}

// Embedder turns a face crop into a fixed-length vector.
type Embedder interface {
	Represent(ctx context.Context, face image.Image) ([]float64, error)
}

// EmotionAnalyzer labels the dominant emotion of a face crop.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, face image.Image) (types.Emotion, error)
}

// Engine bundles the three capabilities.
type Engine interface {
	FaceExtractor
	Embedder
	EmotionAnalyzer
}

// Composite assembles an Engine from separate implementations, e.g. the OpenCV
// detector together with the Python engine for embeddings and emotions.
type Composite struct {
	FaceExtractor
	Embedder
	EmotionAnalyzer
}

// Confident returns the faces whose confidence is strictly above threshold,
// preserving detector order.
func Confident(faces []types.Face, threshold float64) []types.Face {
	var kept []types.Face
	for _, f := range faces {
		if f.Confidence > threshold {
			kept = append(kept, f)
		}
	}
	return kept
}
