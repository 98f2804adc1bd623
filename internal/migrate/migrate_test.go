package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiberdb/fiberdb/internal/config"
	"github.com/fiberdb/fiberdb/internal/fiberdb"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, v string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(v), 0o644))
}

func TestRunMigratesAnchorsAndAttached(t *testing.T) {
	legacyRoot := t.TempDir()

	writeJSON(t, filepath.Join(legacyRoot, "anchors", "user", "u1.json"), `{"name":"Ada"}`)
	writeJSON(t, filepath.Join(legacyRoot, "anchors", "customer", "c1.json"), `{"name":"Acme","managerId":"u1"}`)
	writeJSON(t, filepath.Join(legacyRoot, "attached", "c1", "orders.json"), `[{"status":"open"},{"status":"closed"}]`)

	db, err := fiberdb.Open(&config.Config{
		Storage: config.StorageConfig{Engine: config.EngineFile, DataPath: t.TempDir(), WALEnabled: true, CompactionThreshold: 1000},
		Cache:   config.CacheConfig{Size: 100},
		Index:   config.IndexConfig{Enabled: true},
		Metrics: config.MetricsConfig{Enabled: true},
		Query:   config.QueryConfig{Timeout: 5 * time.Second, MaxConcurrentQueries: 10},
	})
	require.NoError(t, err)
	defer db.Close()

	result, err := Run(db, legacyRoot)
	require.NoError(t, err)
	require.Equal(t, 2, result.EntitiesWritten)
	require.Equal(t, 1, result.EdgesInferred)

	customer, err := db.GetEntity("customer", "c1")
	require.NoError(t, err)
	require.NotNil(t, customer)
	require.Len(t, customer.Edges, 1)
	require.Equal(t, "user:u1", customer.Edges[0].Target)
	require.Equal(t, "MANAGER", customer.Edges[0].Type)
	require.Len(t, customer.Documents["orders"], 2)
}

func TestRunOnMissingLegacyRootIsNoop(t *testing.T) {
	db, err := fiberdb.Open(&config.Config{
		Storage: config.StorageConfig{Engine: config.EngineFile, DataPath: t.TempDir(), WALEnabled: true, CompactionThreshold: 1000},
		Cache:   config.CacheConfig{Size: 100},
		Index:   config.IndexConfig{Enabled: true},
		Metrics: config.MetricsConfig{Enabled: true},
		Query:   config.QueryConfig{Timeout: 5 * time.Second, MaxConcurrentQueries: 10},
	})
	require.NoError(t, err)
	defer db.Close()

	result, err := Run(db, filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Equal(t, 0, result.EntitiesWritten)
}
