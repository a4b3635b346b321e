// Package classifier holds the label encoder and the probabilistic
// multi-class model trained over face embeddings.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

const (
	defaultMaxIterations = 1000
	defaultL2            = 1e-4
	gradientThreshold    = 1e-6
)

// Softmax is a multinomial logistic regression over L2-normalized embeddings.
// It is retrained from scratch on every Fit; there is no incremental update.
type Softmax struct {
	MaxIterations int     `json:"max_iterations"`
	L2            float64 `json:"l2"`

	Weights [][]float64 `json:"weights,omitempty"` // one row per class
	Bias    []float64   `json:"bias,omitempty"`
}

// NewSoftmax returns an untrained model with default hyperparameters.
func NewSoftmax() *Softmax {
	return &Softmax{
		MaxIterations: defaultMaxIterations,
		L2:            defaultL2,
	}
}

// Fitted reports whether the model has been trained on at least two classes.
func (m *Softmax) Fitted() bool {
	return len(m.Weights) >= 2
}

// NumClasses returns the number of classes the model was trained on.
func (m *Softmax) NumClasses() int {
	return len(m.Weights)
}

// Dim returns the input dimension, or 0 when untrained.
func (m *Softmax) Dim() int {
	if len(m.Weights) == 0 {
		return 0
	}
	return len(m.Weights[0])
}

// Fit minimizes the L2-regularized cross-entropy with L-BFGS until the
// gradient vanishes. Class indices in y must be dense in [0, K) with K >= 2.
func (m *Softmax) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("softmax: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("softmax: %d samples but %d labels", len(X), len(y))
	}
	dim := len(X[0])
	if dim == 0 {
		return errors.New("softmax: zero-length embeddings")
	}

	k := 0
	for _, c := range y {
		if c < 0 {
			return fmt.Errorf("softmax: negative class index %d", c)
		}
		if c+1 > k {
			k = c + 1
		}
	}
	if k < 2 {
		return fmt.Errorf("softmax: need at least 2 classes, got %d", k)
	}

	xs := make([][]float64, len(X))
	for i, x := range X {
		if len(x) != dim {
			return fmt.Errorf("softmax: sample %d has dimension %d, want %d", i, len(x), dim)
		}
		xs[i] = normalized(x)
	}

	maxIter, l2 := m.MaxIterations, m.L2
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	if l2 <= 0 {
		l2 = defaultL2
	}

	obj := &crossEntropy{xs: xs, y: y, k: k, dim: dim, l2: l2}
	problem := optimize.Problem{
		Func: func(theta []float64) float64 { return obj.eval(theta, nil) },
		Grad: func(grad, theta []float64) { obj.eval(theta, grad) },
	}
	settings := &optimize.Settings{
		GradientThreshold: gradientThreshold,
		MajorIterations:   maxIter,
	}
	res, err := optimize.Minimize(problem, make([]float64, k*(dim+1)), settings, &optimize.LBFGS{})
	if err != nil && !stalled(err) {
		return fmt.Errorf("softmax: training failed: %w", err)
	}
	if res == nil || math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return errors.New("softmax: training diverged")
	}

	w, b := obj.unpack(res.X)
	m.MaxIterations, m.L2 = maxIter, l2
	m.Weights = w
	m.Bias = b
	return nil
}

// stalled reports line search errors raised when the iterate can no longer
// improve in floating point. The best location found is still the optimum.
func stalled(err error) bool {
	return errors.Is(err, optimize.ErrNoProgress) || errors.Is(err, optimize.ErrLinesearcherFailure)
}

// crossEntropy is the mean negative log-likelihood plus l2/2 * ||W||^2 over a
// flat parameter vector: K rows of dim weights followed by K biases.
type crossEntropy struct {
	xs  [][]float64
	y   []int
	k   int
	dim int
	l2  float64
}

func (o *crossEntropy) unpack(theta []float64) ([][]float64, []float64) {
	w := make([][]float64, o.k)
	for c := range w {
		w[c] = make([]float64, o.dim)
		copy(w[c], theta[c*o.dim:(c+1)*o.dim])
	}
	b := make([]float64, o.k)
	copy(b, theta[o.k*o.dim:])
	return w, b
}

// eval returns the objective at theta and, when grad is non-nil, writes the
// gradient into it.
func (o *crossEntropy) eval(theta, grad []float64) float64 {
	w := make([][]float64, o.k)
	for c := range w {
		w[c] = theta[c*o.dim : (c+1)*o.dim]
	}
	b := theta[o.k*o.dim:]
	if grad != nil {
		floats.Scale(0, grad)
	}

	n := float64(len(o.xs))
	p := make([]float64, o.k)
	var loss float64
	for i, x := range o.xs {
		softmaxInto(p, w, b, x)
		loss -= math.Log(math.Max(p[o.y[i]], math.SmallestNonzeroFloat64))
		if grad == nil {
			continue
		}
		for c := range o.k {
			g := p[c]
			if c == o.y[i] {
				g -= 1
			}
			floats.AddScaled(grad[c*o.dim:(c+1)*o.dim], g/n, x)
			grad[o.k*o.dim+c] += g / n
		}
	}
	loss /= n

	weights := theta[:o.k*o.dim]
	loss += 0.5 * o.l2 * floats.Dot(weights, weights)
	if grad != nil {
		floats.AddScaled(grad[:o.k*o.dim], o.l2, weights)
	}
	return loss
}

// PredictProba returns the class probability distribution for one embedding.
func (m *Softmax) PredictProba(x []float64) ([]float64, error) {
	if !m.Fitted() {
		return nil, fmt.Errorf("softmax: %w", ErrNotFitted)
	}
	if len(x) != m.Dim() {
		return nil, fmt.Errorf("softmax: embedding dimension %d, model expects %d", len(x), m.Dim())
	}
	p := make([]float64, len(m.Weights))
	softmaxInto(p, m.Weights, m.Bias, normalized(x))
	return p, nil
}

// Predict returns the arg-max class and its probability.
func (m *Softmax) Predict(x []float64) (int, float64, error) {
	p, err := m.PredictProba(x)
	if err != nil {
		return 0, 0, err
	}
	best := floats.MaxIdx(p)
	return best, p[best], nil
}

func softmaxInto(dst []float64, w [][]float64, b []float64, x []float64) {
	for c := range w {
		dst[c] = floats.Dot(w[c], x) + b[c]
	}
	maxLogit := floats.Max(dst)
	var sum float64
	for c := range dst {
		dst[c] = math.Exp(dst[c] - maxLogit)
		sum += dst[c]
	}
	floats.Scale(1/sum, dst)
}

func normalized(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}
