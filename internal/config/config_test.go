package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchConfigurationTable(t *testing.T) {
	c := Defaults()
	assert.Equal(t, 2, c.Runtime.DwellMinSteps)
	assert.Equal(t, 2, c.Runtime.CooldownSteps)
	assert.Equal(t, int64(524288), int64(c.Runtime.PayloadMaxBytes))
	assert.Equal(t, 1.2, c.Budgets.SafetyFactor)
	assert.Equal(t, 0.20, c.Bandit.EpsilonStart)
	assert.Equal(t, 0.05, c.Bandit.EpsilonEnd)
	assert.True(t, c.Storage.Enabled)
	assert.Equal(t, "standard", c.Collaborators.LLM.Tier)
	assert.Equal(t, ":8090", c.Server.AdminAddr)
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Runtime, c.Runtime)
}

func TestLoadOverridesFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apex.yaml")
	contents := `
runtime:
  dwell_min_steps: 9
  cooldown_steps: 4
storage:
  enabled: false
server:
  admin_addr: ":9999"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, c.Runtime.DwellMinSteps)
	assert.Equal(t, 4, c.Runtime.CooldownSteps)
	assert.False(t, c.Storage.Enabled)
	assert.Equal(t, ":9999", c.Server.AdminAddr)

	// Values not present in the override file retain their defaults.
	assert.Equal(t, Defaults().Bandit, c.Bandit)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
