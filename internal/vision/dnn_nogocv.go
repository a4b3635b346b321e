//go:build !gocv

package vision

import (
	"context"
	"errors"
	"image"

	"github.com/andresmejia3/rollcall/internal/types"
)

// ErrNoGoCV is returned when the binary was built without the gocv tag.
var ErrNoGoCV = errors.New("opencv detector unavailable: built without the gocv tag")

// DNNConfig points at an OpenCV SSD face detector (e.g. res10_300x300 Caffe).
type DNNConfig struct {
	ModelPath  string
	ConfigPath string
}

// DNNDetector is a placeholder without OpenCV support.
type DNNDetector struct{}

func NewDNNDetector(cfg DNNConfig) (*DNNDetector, error) {
	return nil, ErrNoGoCV
}

func (d *DNNDetector) DetectFaces(ctx context.Context, img image.Image) ([]types.Face, error) {
	return nil, ErrNoGoCV
}

func (d *DNNDetector) Close() error { return nil }
