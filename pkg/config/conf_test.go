package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValid(t *testing.T) {
	sc := DefaultSimConf()
	require.NoError(t, sc.Validate())
	assert.Equal(t, 500*time.Millisecond, sc.TickInterval)
	assert.Equal(t, 15, sc.CooldownMin)
}

func TestStageFor(t *testing.T) {
	sc := DefaultSimConf()
	assert.Equal(t, [4]float64{1, 0, 0, 0}, sc.StageFor(0))
	assert.Equal(t, [4]float64{1, 0, 0, 0}, sc.StageFor(2))
	assert.Equal(t, [4]float64{0.7, 0.3, 0, 0}, sc.StageFor(3))
	assert.Equal(t, [4]float64{0.1, 0.25, 0.35, 0.3}, sc.StageFor(40))
}

func TestLoadSimConf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	data := `
tick_interval: 100ms
cooldown_min: 2
cooldown_max: 4
tier_stages:
  - min_requests: 5
    weights: [0, 0, 0, 1]
  - min_requests: 0
    weights: [0, 1, 0, 0]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	sc, err := LoadSimConf(path)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, sc.TickInterval)
	assert.Equal(t, 2, sc.CooldownMin)
	assert.Equal(t, 0, sc.TierStages[0].MinRequests, "stages are sorted")
	assert.Equal(t, 250*time.Millisecond, sc.FastTickInterval, "unset keys keep defaults")
}

func TestLoadSimConfInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cooldown_min: 10\ncooldown_max: 5\n"), 0o644))
	_, err := LoadSimConf(path)
	assert.Error(t, err)

	_, err = LoadSimConf(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
