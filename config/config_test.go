package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromString_DefaultsApplied(t *testing.T) {
	cfg, err := LoadFromString(`name: test`)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 8, cfg.Concurrency.MaxParallelSteps)
	assert.Equal(t, ".maverick/checkpoints", cfg.Checkpoint.Root)
	assert.Equal(t, "~/.maverick/workflows", cfg.Discovery.UserDir)
	assert.Equal(t, "./.maverick/workflows", cfg.Discovery.ProjectDir)
	assert.True(t, cfg.Registry.Strict())
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromString_ExplicitStrictFalsePreserved(t *testing.T) {
	cfg, err := LoadFromString("registry:\n  strict: false\n")
	require.NoError(t, err)
	assert.False(t, cfg.Registry.Strict())
}

func TestLoadFromString_EnvVarExpansion(t *testing.T) {
	t.Setenv("MAVERICK_TEST_HOST", "example.internal")
	cfg, err := LoadFromString("server:\n  host: \"${MAVERICK_TEST_HOST}\"\n  port: 9090\n")
	require.NoError(t, err)
	assert.Equal(t, "example.internal", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadFromString_InvalidLogLevelRejected(t *testing.T) {
	_, err := LoadFromString("logging:\n  level: bogus\n")
	require.Error(t, err)
}

func TestLoadFromString_FileOutputRequiresPath(t *testing.T) {
	_, err := LoadFromString("logging:\n  output: file\n")
	require.Error(t, err)
}

func TestLoadFromString_InvalidPortRejected(t *testing.T) {
	_, err := LoadFromString("server:\n  port: 70000\n")
	require.Error(t, err)
}

func TestLoadFromString_MalformedYAMLRejected(t *testing.T) {
	_, err := LoadFromString("not: [valid")
	require.Error(t, err)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
