package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/phold-sim/sim"
)

func writeDefaults(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestGetPreset_AppliesOnlySetFields(t *testing.T) {
	// GIVEN a preset that sets the LP count and a zero local rate
	path := writeDefaults(t, `
version: "1"
presets:
  remote:
    num_lps: 512
    local_rate: 0
`)

	// WHEN applied over the built-in defaults
	p, err := GetPreset(path, "remote")
	require.NoError(t, err)
	cfg := sim.DefaultConfig()
	p.applyTo(&cfg)

	// THEN the set fields change, including an explicit zero, and the rest keep defaults
	assert.Equal(t, 512, cfg.NumLPs)
	assert.Zero(t, cfg.LocalRate)
	assert.Equal(t, float32(sim.DefaultStopTime), cfg.StopTime)
	assert.Equal(t, sim.DefaultWorkGroupSize, cfg.WorkGroupSize)
}

func TestGetPreset_UnknownField_Rejected(t *testing.T) {
	path := writeDefaults(t, `
presets:
  typo:
    num_lp: 512
`)
	_, err := GetPreset(path, "typo")
	assert.Error(t, err)
}

func TestGetPreset_UnknownPreset(t *testing.T) {
	path := writeDefaults(t, "presets:\n  small:\n    num_lps: 8\n")
	_, err := GetPreset(path, "large")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "small")
}

func TestGetPreset_MissingFile(t *testing.T) {
	_, err := GetPreset(filepath.Join(t.TempDir(), "nope.yaml"), "small")
	assert.Error(t, err)
}

// TestRepoDefaults_AllPresetsValid checks every preset shipped in defaults.yaml.
func TestRepoDefaults_AllPresetsValid(t *testing.T) {
	path := "../defaults.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("defaults.yaml not found, skipping integration test")
	}
	cfg, err := loadDefaultsConfig(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Presets)
	for name, p := range cfg.Presets {
		c := sim.DefaultConfig()
		p.applyTo(&c)
		assert.NoError(t, c.Validate(), "preset %s", name)
	}
}
