package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 7, cfg.WorkingMemoryCapacity)
	assert.Equal(t, 4, cfg.QueryExpansionVariants)
	assert.Equal(t, 5_000, cfg.ToolTimeoutMsDefault)
	assert.Equal(t, StrategyBalanced, cfg.ConsolidationStrategyDefault)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
storage_backend: clustered
embedding_dim: 768
working_memory_capacity: 9
verification_strict_mode: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "athena.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, BackendClustered, cfg.StorageBackend)
	assert.Equal(t, 768, cfg.EmbeddingDim)
	assert.Equal(t, 9, cfg.WorkingMemoryCapacity)
	assert.True(t, cfg.VerificationStrictMode)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ATHENA_EMBEDDING_DIM", "384")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 384, cfg.EmbeddingDim)
}

func TestValidate_RejectsBadWeights(t *testing.T) {
	cfg := &Config{
		EmbeddingDim:            10,
		WorkingMemoryCapacity:   7,
		WeightSemanticRelevance: 0.5,
		WeightSourceQuality:     0.5,
		WeightRecency:           0.5,
		WeightConsistency:       0.5,
		WeightCompleteness:      0.5,
		StorageBackend:          BackendMemory,
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := &Config{
		EmbeddingDim:            10,
		WorkingMemoryCapacity:   7,
		WeightSemanticRelevance: 0.35,
		WeightSourceQuality:     0.25,
		WeightRecency:           0.15,
		WeightConsistency:       0.15,
		WeightCompleteness:      0.10,
		StorageBackend:          "bogus",
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestRecencyHalfLife(t *testing.T) {
	cfg := &Config{RecencyHalfLifeMs: 60_000}
	assert.Equal(t, 60*time.Second, cfg.RecencyHalfLife())
}
