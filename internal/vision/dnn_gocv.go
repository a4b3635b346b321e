//go:build gocv

package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/andresmejia3/rollcall/internal/types"
	"gocv.io/x/gocv"
)

// DNNConfig points at an OpenCV SSD face detector (e.g. res10_300x300 Caffe).
type DNNConfig struct {
	ModelPath  string
	ConfigPath string
}

// DNNDetector detects faces in-process with OpenCV's DNN module.
type DNNDetector struct {
	net   gocv.Net
	mutex sync.Mutex
}

// NewDNNDetector loads the detector network.
func NewDNNDetector(cfg DNNConfig) (*DNNDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("detector model not found: %w", err)
	}
	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detector model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &DNNDetector{net: net}, nil
}

// DetectFaces runs one forward pass and returns every detection with its
// confidence. Filtering by threshold is left to the caller.
func (d *DNNDetector) DetectFaces(ctx context.Context, img image.Image) ([]types.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("converting image: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(300, 300), gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	d.mutex.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mutex.Unlock()
	defer out.Close()

	cols, rows := float32(mat.Cols()), float32(mat.Rows())
	var faces []types.Face
	// Output is [1, 1, N, 7]: image id, class, confidence, x1, y1, x2, y2.
	for i := 0; i < out.Total(); i += 7 {
		conf := out.GetFloatAt(0, i+2)
		if conf <= 0 {
			continue
		}
		x1 := int(out.GetFloatAt(0, i+3) * cols)
		y1 := int(out.GetFloatAt(0, i+4) * rows)
		x2 := int(out.GetFloatAt(0, i+5) * cols)
		y2 := int(out.GetFloatAt(0, i+6) * rows)
		faces = append(faces, types.Face{
			Box:        types.Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1},
			Confidence: float64(conf),
		})
	}
	return faces, nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.net.Close()
}
