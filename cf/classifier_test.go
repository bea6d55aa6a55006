package cf

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLinearClassifier_LoadExampleArtifact verifies that the shipped example
// artifact loads and produces a valid probability vector.
func TestLinearClassifier_LoadExampleArtifact(t *testing.T) {
	// GIVEN the example linear artifact
	path := filepath.Join("..", "examples", "linear-classifier.yaml")
	clf, err := LoadLinearClassifier(path)
	require.NoError(t, err, "failed to load example artifact")

	require.Equal(t, 2, clf.NumClasses())

	// WHEN predicting a low-marker patch
	inst := testInstance("q", 0, tcellChannels, 0.1, 0.1, 0.5)
	probs, err := clf.Predict(inst.Pixels)
	require.NoError(t, err)

	// THEN probabilities are a distribution favoring class 0
	require.Len(t, probs, 2)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-12, "probabilities must sum to 1")
	assert.Greater(t, probs[0], probs[1], "low-marker patch should score as background")
}

func TestLinearClassifier_HighMarkerFlipsPrediction(t *testing.T) {
	// GIVEN the test classifier
	clf := tcellClassifier(t)

	// WHEN predicting a high CD4/CD8 patch
	probs, err := clf.Predict(testInstance("q", 0, tcellChannels, 0.8, 0.8, 0.5).Pixels)
	require.NoError(t, err)

	// THEN class 1 dominates
	assert.Greater(t, probs[1], probs[0])
}

func TestLinearClassifier_RejectsMisalignedPixels(t *testing.T) {
	clf := tcellClassifier(t)

	// WHEN predicting with a pixel count not divisible by the channel count
	_, err := clf.Predict(make([]float64, 7))

	// THEN the call fails rather than silently misreading the layout
	assert.Error(t, err)
}

func TestNewClassifier_UnknownBackend(t *testing.T) {
	// WHEN requesting an unregistered backend
	_, err := NewClassifier(ClassifierConfig{Backend: "nonexistent", Path: "x"})

	// THEN a ClassifierLoadError is returned
	require.Error(t, err)
	var loadErr *ClassifierLoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestNewClassifier_MissingArtifact(t *testing.T) {
	// WHEN the artifact path does not exist
	_, err := NewClassifier(ClassifierConfig{Backend: "linear", Path: "does/not/exist.yaml"})

	// THEN the batch-fatal load error surfaces
	var loadErr *ClassifierLoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestSoftmax_NumericallyStable(t *testing.T) {
	// GIVEN large logits that would overflow a naive exp
	logits := []float64{1000, 1001, 999}
	softmaxInPlace(logits)

	sum := logits[0] + logits[1] + logits[2]
	assert.False(t, math.IsNaN(sum))
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Greater(t, logits[1], logits[0])
}
