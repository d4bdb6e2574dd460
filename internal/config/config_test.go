package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/flint-replicate/internal/config"
)

func TestLoad_DefaultsWhenNoFilePresent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(dir, "")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	jsonc := `{
		// master address for this environment
		"master_addr": "10.0.0.5:7890",
		"chunk_deadline_ms": 5000,
	}`

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(jsonc), 0o644))

	cfg, err := config.Load(dir, "")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:7890", cfg.MasterAddr)
	require.Equal(t, 5000, cfg.ChunkDeadlineMillis)
	require.Equal(t, config.Default().DatabaseDir, cfg.DatabaseDir)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := config.Load(dir, "missing.json")
	require.Error(t, err)
}

func TestValidate_RejectsEmptyMasterAddr(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.Error(t, config.Validate(cfg))

	cfg.MasterAddr = "localhost:7890"
	require.NoError(t, config.Validate(cfg))
}

func TestFormat_RoundTripsThroughJSON(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MasterAddr = "localhost:7890"

	out, err := config.Format(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	var got config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, cfg, got)
}
