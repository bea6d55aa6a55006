// Shared helpers for engine tests: a stub classifier and compact instance /
// config constructors.

package cf

// stubClassifier adapts a plain function to the Classifier interface.
type stubClassifier struct {
	classes int
	fn      func(pixels []float64) ([]float64, error)
}

func (s *stubClassifier) Predict(pixels []float64) ([]float64, error) {
	return s.fn(pixels)
}

func (s *stubClassifier) NumClasses() int {
	return s.classes
}

// testInstance builds a 2x2 patch over the given channels with one constant
// intensity per channel.
func testInstance(id string, class int, channels []string, levels ...float64) *Instance {
	pixels := make([]float64, 0, len(channels)*4)
	for _, v := range levels {
		pixels = append(pixels, v, v, v, v)
	}
	return &Instance{
		ID:             id,
		Channels:       channels,
		Height:         2,
		Width:          2,
		Pixels:         pixels,
		PredictedClass: class,
	}
}

// tcellChannels is the layout used by most engine tests; the linear test
// classifier scores CD4/CD8 toward class 1.
var tcellChannels = []string{"CD4", "CD8", "DNA"}

// tcellClassifier builds the deterministic two-class linear classifier the
// tests drive the search with.
func tcellClassifier(t interface{ Fatalf(string, ...interface{}) }) *LinearClassifier {
	clf, err := NewLinearClassifier(tcellChannels,
		[][]float64{
			{-4.0, -4.0, 0.5},
			{4.0, 4.0, 0.5},
		},
		[]float64{1.0, -1.0})
	if err != nil {
		t.Fatalf("build linear classifier: %v", err)
	}
	return clf
}

// testConfig returns a small, fast engine configuration for tests.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.TargetClass = 1
	cfg.ChannelToPerturb = []string{"CD4", "CD8"}
	cfg.MaxIterations = 200
	cfg.CSteps = 3
	cfg.Patience = 10
	return cfg
}
