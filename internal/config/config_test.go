package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	require.Equal(t, EngineFile, cfg.Storage.Engine)
	require.Equal(t, 1000, cfg.Storage.CompactionThreshold)
	require.Equal(t, 30*time.Second, cfg.Query.Timeout)
	require.Equal(t, 100, cfg.Query.MaxConcurrentQueries)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fiberdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  size: 42\nstorage:\n  dataPath: /from-yaml\n"), 0o644))

	t.Setenv("FIBERDB_DATA_PATH", "/from-env")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	require.Equal(t, "/from-env", cfg.Storage.DataPath)
	require.Equal(t, 42, cfg.Cache.Size)
}

func TestValidateRejectsBadEngine(t *testing.T) {
	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	cfg.Storage.Engine = "bogus"
	require.Error(t, cfg.Validate())
}
