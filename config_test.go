package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSensibleDefaults(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "default", cfg.Permission.DefaultMode)
	assert.True(t, cfg.Permission.Interactive)
	assert.False(t, cfg.Hooks.Enabled)
}

func TestSaveConfigPersistsAllowList(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)

	cfg := defaultConfig()
	cfg.Permission.Allow = []string{"write_file", "read_*"}

	require.NoError(t, SaveConfig(&cfg))

	written, err := os.ReadFile(filepath.Join(dir, ".toolsched", "conf.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "write_file")
	assert.Contains(t, string(written), "read_*")
}

func TestSaveConfigMergesIntoExistingFile(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)

	first := defaultConfig()
	first.Permission.Allow = []string{"tool_a"}
	require.NoError(t, SaveConfig(&first))

	second := defaultConfig()
	second.Permission.Allow = []string{"tool_a", "tool_b"}
	require.NoError(t, SaveConfig(&second))

	written, err := os.ReadFile(filepath.Join(dir, ".toolsched", "conf.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "tool_a")
	assert.Contains(t, string(written), "tool_b")
}
