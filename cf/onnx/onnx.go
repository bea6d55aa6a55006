// Package onnx wires an ONNX Runtime classifier backend into the cf package's
// backend registry. The init() registration runs when any package imports
// cf/onnx, keeping the core free of the ONNX Runtime dependency; the CLI
// imports this package, library users opt in with a blank import.
package onnx

import (
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/cellflip/cellflip/cf"
)

func init() {
	cf.RegisterClassifierBackend("onnx", func(cfg cf.ClassifierConfig) (cf.Classifier, error) {
		return NewClassifier(cfg)
	})
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the shared ONNX Runtime environment once per
// process. The library path must be identical across backends.
func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Classifier runs inference through an ONNX Runtime session. Sessions are not
// safe for concurrent Run calls, so Predict serializes on an internal mutex;
// the engine's workers share one Classifier by reference.
type Classifier struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputShape ort.Shape
	numClasses int
	rawLogits  bool
	inputLen   int
}

// NewClassifier loads a session from the configured model artifact.
func NewClassifier(cfg cf.ClassifierConfig) (*Classifier, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("onnx backend requires classifier.path")
	}
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("onnx backend requires classifier.num_classes")
	}
	if len(cfg.InputShape) == 0 {
		return nil, fmt.Errorf("onnx backend requires classifier.input_shape")
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if cfg.Device == "cuda" {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	}

	inputName := cfg.InputName
	if inputName == "" {
		inputName = "input"
	}
	outputName := cfg.OutputName
	if outputName == "" {
		outputName = "output"
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	inputLen := 1
	for _, d := range cfg.InputShape {
		inputLen *= int(d)
	}
	return &Classifier{
		session:    session,
		inputShape: ort.NewShape(cfg.InputShape...),
		numClasses: cfg.NumClasses,
		rawLogits:  cfg.RawLogits,
		inputLen:   inputLen,
	}, nil
}

// NumClasses returns the configured output width.
func (c *Classifier) NumClasses() int {
	return c.numClasses
}

// Predict runs one forward pass. The engine works in float64; ONNX models
// take float32, so pixels are narrowed on the way in.
func (c *Classifier) Predict(pixels []float64) ([]float64, error) {
	if len(pixels) != c.inputLen {
		return nil, fmt.Errorf("pixel length %d does not match input shape (%d values)",
			len(pixels), c.inputLen)
	}
	data := make([]float32, len(pixels))
	for i, v := range pixels {
		data[i] = float32(v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	input, err := ort.NewTensor(c.inputShape, data)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.numClasses)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}

	raw := output.GetData()
	probs := make([]float64, c.numClasses)
	for i := 0; i < c.numClasses; i++ {
		probs[i] = float64(raw[i])
	}
	if c.rawLogits {
		softmax(probs)
	}
	return probs, nil
}

// Close releases the session.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		err := c.session.Destroy()
		c.session = nil
		return err
	}
	return nil
}

func softmax(logits []float64) {
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
