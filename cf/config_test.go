package cf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig_ExampleFile verifies that the shipped example config loads
// and passes validation.
func TestLoadConfig_ExampleFile(t *testing.T) {
	// GIVEN the example engine config
	cfg, err := LoadConfig(filepath.Join("..", "examples", "config.yaml"))
	require.NoError(t, err, "failed to load example config")

	// THEN validation passes
	require.NoError(t, cfg.Validate())

	// THEN the documented keys map onto the config
	assert.True(t, cfg.UseKDTree)
	assert.Equal(t, 1, cfg.TargetClass)
	assert.Equal(t, []string{"CD4", "CD8"}, cfg.ChannelToPerturb)
	assert.Equal(t, 1.0, cfg.CInit)
	assert.Equal(t, 5, cfg.CSteps)
	assert.Equal(t, "linear", cfg.Classifier.Backend)
}

func TestLoadConfig_KeepsDefaultsForOmittedKeys(t *testing.T) {
	// GIVEN a minimal config file
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channel_to_perturb: [CD4]\n"), 0o644))

	// WHEN loading
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// THEN unspecified keys keep their defaults
	def := DefaultConfig()
	assert.Equal(t, def.LearningRateInit, cfg.LearningRateInit)
	assert.Equal(t, def.MaxIterations, cfg.MaxIterations)
	assert.Equal(t, def.Kappa, cfg.Kappa)
	assert.Equal(t, []string{"CD4"}, cfg.ChannelToPerturb)
}

func TestConfig_Validate(t *testing.T) {
	mutations := map[string]func(*Config){
		"no perturb channels":  func(c *Config) { c.ChannelToPerturb = nil },
		"zero learning rate":   func(c *Config) { c.LearningRateInit = 0 },
		"zero max iterations":  func(c *Config) { c.MaxIterations = 0 },
		"non-positive c_init":  func(c *Config) { c.CInit = 0 },
		"zero c_steps":         func(c *Config) { c.CSteps = 0 },
		"negative beta":        func(c *Config) { c.Beta = -1 },
		"inverted clip range":  func(c *Config) { c.ClipMin, c.ClipMax = 1, 0 },
		"zero workers":         func(c *Config) { c.NumWorkers = 0 },
		"no backend":           func(c *Config) { c.Classifier.Backend = "" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			// GIVEN a valid config with one field broken
			cfg := testConfig()
			mutate(cfg)

			// THEN validation rejects it
			assert.Error(t, cfg.Validate())
		})
	}

	// AND the unmodified test config is valid
	assert.NoError(t, testConfig().Validate())
}
