// Classifier interface, backend registry, and the built-in "linear" backend
// (softmax over per-channel mean intensities, loaded from a YAML artifact).
// The engine treats classifiers as opaque: it only ever calls Predict.

package cf

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Classifier maps a patch's pixel data to a class-probability vector.
// Implementations must be stateless or internally synchronized: Predict is
// called concurrently from all workers against a single shared instance.
type Classifier interface {
	// Predict returns one probability per class for channel-major pixels laid
	// out as the batch's instances are (len = channels * height * width).
	Predict(pixels []float64) ([]float64, error)

	// NumClasses returns the length of the probability vector.
	NumClasses() int
}

// ClassifierBackendFunc constructs a Classifier from its configuration.
type ClassifierBackendFunc func(cfg ClassifierConfig) (Classifier, error)

// classifierBackends maps backend names to constructors. Sub-packages (e.g.
// cf/onnx) register themselves from init(), mirroring how storage and latency
// implementations plug into a core package without import cycles.
var classifierBackends = map[string]ClassifierBackendFunc{}

// RegisterClassifierBackend makes a backend available to NewClassifier.
// Panics on duplicate registration; backends are wired at init time.
func RegisterClassifierBackend(name string, fn ClassifierBackendFunc) {
	if _, dup := classifierBackends[name]; dup {
		panic(fmt.Sprintf("classifier backend %q registered twice", name))
	}
	classifierBackends[name] = fn
}

// NewClassifier builds the configured classifier. Any failure is wrapped in a
// ClassifierLoadError so callers can fail the batch before dispatch.
func NewClassifier(cfg ClassifierConfig) (Classifier, error) {
	fn, ok := classifierBackends[cfg.Backend]
	if !ok {
		known := make([]string, 0, len(classifierBackends))
		for name := range classifierBackends {
			known = append(known, name)
		}
		sort.Strings(known)
		return nil, &ClassifierLoadError{
			Path: cfg.Path,
			Err:  fmt.Errorf("unknown backend %q (registered: %v)", cfg.Backend, known),
		}
	}
	clf, err := fn(cfg)
	if err != nil {
		return nil, &ClassifierLoadError{Path: cfg.Path, Err: err}
	}
	return clf, nil
}

func init() {
	RegisterClassifierBackend("linear", func(cfg ClassifierConfig) (Classifier, error) {
		return LoadLinearClassifier(cfg.Path)
	})
}

// === Linear backend ===

// linearArtifact is the YAML layout of a persisted linear model.
type linearArtifact struct {
	Classes  []string    `yaml:"classes"`
	Channels []string    `yaml:"channels"`
	Weights  [][]float64 `yaml:"weights"` // numClasses rows x numChannels cols
	Bias     []float64   `yaml:"bias"`
}

// LinearClassifier scores patches by softmax(W * channelMeans + b). It exists
// both as a reference backend and as the deterministic classifier the test
// suite drives the engine with. Read-only after load; safe for concurrent use.
type LinearClassifier struct {
	classes  []string
	channels []string
	weights  *mat.Dense
	bias     []float64
}

// NewLinearClassifier builds a classifier directly from weights.
// weights[k][c] scores channel c toward class k.
func NewLinearClassifier(channels []string, weights [][]float64, bias []float64) (*LinearClassifier, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("linear classifier needs at least one class row")
	}
	numClasses := len(weights)
	numChannels := len(channels)
	flat := make([]float64, 0, numClasses*numChannels)
	for k, row := range weights {
		if len(row) != numChannels {
			return nil, fmt.Errorf("weights row %d has %d cols, want %d channels", k, len(row), numChannels)
		}
		flat = append(flat, row...)
	}
	if bias == nil {
		bias = make([]float64, numClasses)
	}
	if len(bias) != numClasses {
		return nil, fmt.Errorf("bias length %d, want %d classes", len(bias), numClasses)
	}
	return &LinearClassifier{
		channels: channels,
		weights:  mat.NewDense(numClasses, numChannels, flat),
		bias:     bias,
	}, nil
}

// LoadLinearClassifier reads a linear model artifact from a YAML file.
func LoadLinearClassifier(path string) (*LinearClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var art linearArtifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	clf, err := NewLinearClassifier(art.Channels, art.Weights, art.Bias)
	if err != nil {
		return nil, err
	}
	clf.classes = art.Classes
	return clf, nil
}

// NumClasses returns the number of output classes.
func (l *LinearClassifier) NumClasses() int {
	r, _ := l.weights.Dims()
	return r
}

// Predict computes softmax(W * channelMeans + b) for channel-major pixels.
func (l *LinearClassifier) Predict(pixels []float64) ([]float64, error) {
	numClasses, numChannels := l.weights.Dims()
	if numChannels == 0 || len(pixels)%numChannels != 0 {
		return nil, fmt.Errorf("pixel length %d not divisible by %d channels", len(pixels), numChannels)
	}
	plane := len(pixels) / numChannels
	means := mat.NewVecDense(numChannels, nil)
	for c := 0; c < numChannels; c++ {
		sum := 0.0
		for _, v := range pixels[c*plane : (c+1)*plane] {
			sum += v
		}
		means.SetVec(c, sum/float64(plane))
	}

	var logits mat.VecDense
	logits.MulVec(l.weights, means)
	probs := make([]float64, numClasses)
	for k := 0; k < numClasses; k++ {
		probs[k] = logits.AtVec(k) + l.bias[k]
	}
	softmaxInPlace(probs)
	return probs, nil
}

// softmaxInPlace converts logits to probabilities with max-subtraction for
// numerical stability.
func softmaxInPlace(logits []float64) {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		logits[i] = math.Exp(v - maxLogit)
		sum += logits[i]
	}
	for i := range logits {
		logits[i] /= sum
	}
}
