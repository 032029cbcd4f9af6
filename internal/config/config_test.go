package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsValidDefaults(t *testing.T) {
	cfg := New()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 10000, cfg.VSA.Dimension)
	assert.Equal(t, 100, cfg.VSA.TargetNonzero)
	assert.Equal(t, 0, cfg.Hierarchy.MaxChunksPerNode)
	assert.Equal(t, 2, cfg.Retrieval.ShiftWidth)
}

func TestLoad_AppliesProjectFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := "vsa:\n  dimension: 20000\nchunking:\n  chunk_size: 8192\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".embeddenator.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 20000, cfg.VSA.Dimension)
	assert.Equal(t, 8192, cfg.Chunking.ChunkSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100, cfg.VSA.TargetNonzero)
}

func TestLoad_WithNoProjectFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, New().VSA, cfg.VSA)
}

func TestLoad_EnvOverridesBeatProjectFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "vsa:\n  dimension: 20000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".embeddenator.yaml"), []byte(yaml), 0o644))

	t.Setenv("EMBEDDENATOR_DIMENSION", "30000")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.VSA.Dimension)
}

func TestValidate_RejectsNonPositiveDimension(t *testing.T) {
	cfg := New()
	cfg.VSA.Dimension = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsTargetNonzeroExceedingDimension(t *testing.T) {
	cfg := New()
	cfg.VSA.TargetNonzero = cfg.VSA.Dimension + 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	cfg := New()
	cfg.Daemon.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnfoldThresholdOutOfRange(t *testing.T) {
	cfg := New()
	cfg.Retrieval.UnfoldThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestEffectiveMaxChunksPerNode_ZeroMeansUnbounded(t *testing.T) {
	cfg := New()
	cfg.Hierarchy.MaxChunksPerNode = 0
	assert.Greater(t, cfg.EffectiveMaxChunksPerNode(), 1<<20)

	cfg.Hierarchy.MaxChunksPerNode = 32
	assert.Equal(t, 32, cfg.EffectiveMaxChunksPerNode())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	cfg := New()
	cfg.VSA.Dimension = 12345
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	reloaded := New()
	require.NoError(t, reloaded.loadYAML(path))
	assert.Equal(t, 12345, reloaded.VSA.Dimension)
}
