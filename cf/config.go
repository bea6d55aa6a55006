package cf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClassifierConfig selects and parameterizes a classifier backend.
type ClassifierConfig struct {
	Backend string `yaml:"backend"` // "linear" (built in) or a registered backend such as "onnx"
	Path    string `yaml:"path"`    // persisted model artifact
	Device  string `yaml:"device"`  // "cpu" (default) or "cuda"; inference placement only

	// ONNX backend fields (ignored by the linear backend).
	LibraryPath string  `yaml:"library_path,omitempty"` // ONNX Runtime shared library
	InputName   string  `yaml:"input_name,omitempty"`
	OutputName  string  `yaml:"output_name,omitempty"`
	InputShape  []int64 `yaml:"input_shape,omitempty"` // e.g. [1, C, H, W]
	NumClasses  int     `yaml:"num_classes,omitempty"`
	RawLogits   bool    `yaml:"raw_logits,omitempty"` // model emits logits; apply softmax
}

// Config is the full engine configuration. Loaded from YAML via LoadConfig;
// CLI flags may override individual fields before Validate.
type Config struct {
	Seed        int64 `yaml:"seed"`
	TargetClass int   `yaml:"target_class"`

	// Nearest-neighbor seeding
	UseKDTree bool `yaml:"use_kdtree"` // k-d tree per class; false = flat linear scan

	// Optimizer
	Theta            float64  `yaml:"theta"`              // anchor (prototype) loss weight
	Kappa            float64  `yaml:"kappa"`              // success margin on the target-class probability
	LearningRateInit float64  `yaml:"learning_rate_init"` // initial step size, decays polynomially
	Beta             float64  `yaml:"beta"`               // L1 penalty weight (shrinkage threshold)
	MaxIterations    int      `yaml:"max_iterations"`     // per optimizer invocation
	Patience         int      `yaml:"patience"`           // early-stop window once a flip is found
	ChannelToPerturb []string `yaml:"channel_to_perturb"`
	ClipMin          float64  `yaml:"clip_min"` // lower bound of valid pixel intensities
	ClipMax          float64  `yaml:"clip_max"` // upper bound of valid pixel intensities

	// Constraint scheduler
	CInit  float64 `yaml:"c_init"`  // initial trade-off coefficient
	CSteps int     `yaml:"c_steps"` // outer bisection rounds

	// Dispatch
	NumWorkers int `yaml:"num_workers"` // 1 = sequential

	Classifier ClassifierConfig `yaml:"classifier"`
}

// DefaultConfig returns the engine defaults. Callers typically load a YAML
// config on top and then apply CLI overrides.
func DefaultConfig() *Config {
	return &Config{
		Seed:             42,
		UseKDTree:        true,
		Theta:            0.1,
		Kappa:            0.1,
		LearningRateInit: 0.1,
		Beta:             0.1,
		MaxIterations:    500,
		Patience:         20,
		ClipMin:          0.0,
		ClipMax:          1.0,
		CInit:            1.0,
		CSteps:           5,
		NumWorkers:       1,
		Classifier:       ClassifierConfig{Backend: "linear", Device: "cpu"},
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration before any work is dispatched.
func (c *Config) Validate() error {
	if len(c.ChannelToPerturb) == 0 {
		return fmt.Errorf("channel_to_perturb must name at least one channel")
	}
	if c.LearningRateInit <= 0 {
		return fmt.Errorf("learning_rate_init must be > 0, got %v", c.LearningRateInit)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0, got %d", c.MaxIterations)
	}
	if c.CInit <= 0 {
		return fmt.Errorf("c_init must be > 0, got %v", c.CInit)
	}
	if c.CSteps <= 0 {
		return fmt.Errorf("c_steps must be > 0, got %d", c.CSteps)
	}
	if c.Beta < 0 || c.Theta < 0 || c.Kappa < 0 {
		return fmt.Errorf("beta, theta and kappa must be >= 0 (got beta=%v theta=%v kappa=%v)",
			c.Beta, c.Theta, c.Kappa)
	}
	if c.ClipMax <= c.ClipMin {
		return fmt.Errorf("clip_max (%v) must exceed clip_min (%v)", c.ClipMax, c.ClipMin)
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("num_workers must be >= 1, got %d", c.NumWorkers)
	}
	if c.Patience < 0 {
		return fmt.Errorf("patience must be >= 0, got %d", c.Patience)
	}
	if c.Classifier.Backend == "" {
		return fmt.Errorf("classifier.backend must be set")
	}
	return nil
}
