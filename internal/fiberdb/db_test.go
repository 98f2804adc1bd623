package fiberdb

import (
	"context"
	"testing"
	"time"

	"github.com/fiberdb/fiberdb/internal/config"
	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/graph"
	"github.com/fiberdb/fiberdb/internal/index"
	"github.com/fiberdb/fiberdb/internal/query"
	"github.com/fiberdb/fiberdb/internal/value"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage: config.StorageConfig{
			Engine:               config.EngineFile,
			DataPath:             t.TempDir(),
			WALEnabled:           true,
			CompactionThreshold:  1000,
			BackgroundProcessing: false,
		},
		Cache:    config.CacheConfig{Size: 1000},
		Index:    config.IndexConfig{Enabled: true},
		Security: config.SecurityConfig{},
		Metrics:  config.MetricsConfig{Enabled: true},
		Query:    config.QueryConfig{Timeout: 5 * time.Second, MaxConcurrentQueries: 100},
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func customer(id, name, region string) *entity.Entity {
	return &entity.Entity{
		EntityType: "customer",
		EntityID:   id,
		Attributes: map[string]value.Value{
			"name":   value.String(name),
			"region": value.String(region),
		},
		Documents: map[string][]map[string]value.Value{},
	}
}

// TestInsertRead exercises an end-to-end scenario.
func TestInsertRead(t *testing.T) {
	db := openTestDB(t)

	_, err := db.SaveEntity(customer("c1", "Acme", "NW"))
	require.NoError(t, err)

	got, err := db.GetEntity("customer", "c1")
	require.NoError(t, err)
	name, _ := got.Attributes["name"].AsString()
	require.Equal(t, "Acme", name)
}

// TestEdgeAdd exercises an end-to-end scenario.
func TestEdgeAdd(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SaveEntity(customer("c1", "Acme", "NW"))
	require.NoError(t, err)

	_, err = db.AddRelationship("customer", "c1", "user", "u1", "EMPLOYS", map[string]any{"department": "IT"})
	require.NoError(t, err)

	got, err := db.GetEntity("customer", "c1")
	require.NoError(t, err)
	require.Len(t, got.Edges, 1)
	require.Equal(t, "user:u1", got.Edges[0].Target)
}

// TestNestedFilter exercises an end-to-end scenario.
func TestNestedFilter(t *testing.T) {
	db := openTestDB(t)

	c1 := customer("c1", "Acme", "NW")
	c1.Documents["orders"] = []map[string]value.Value{
		{"status": value.String("open")},
		{"status": value.String("closed")},
	}
	c2 := customer("c2", "Globex", "NE")
	c2.Documents["orders"] = []map[string]value.Value{
		{"status": value.String("closed")},
	}
	_, err := db.SaveEntity(c1)
	require.NoError(t, err)
	_, err = db.SaveEntity(c2)
	require.NoError(t, err)

	res, err := db.Query(context.Background(), query.Descriptor{
		Primary: "customer",
		Include: []string{"id", "orders"},
		Where:   map[string]query.Cond{"orders.status": {Op: "eq", Value: value.String("open")}},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "c1", res.Rows[0]["id"])
}

// TestOperatorSweep exercises an end-to-end scenario.
func TestOperatorSweep(t *testing.T) {
	db := openTestDB(t)
	for id, revenue := range map[string]float64{"c1": 500, "c2": 1500, "c3": 2500} {
		e := customer(id, id, "NW")
		e.Attributes["revenue"] = value.Number(revenue)
		_, err := db.SaveEntity(e)
		require.NoError(t, err)
	}

	res, err := db.Query(context.Background(), query.Descriptor{
		Primary: "customer",
		Filter:  map[string]query.Cond{"revenue": {Op: "gt", Value: value.Number(1000)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
}

// TestCrashRecovery exercises an end-to-end scenario.
func TestCrashRecovery(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.CompactionThreshold = 3

	db1, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := db1.SaveEntity(customer(string(rune('a'+i)), "name", "NW"))
		require.NoError(t, err)
	}
	require.NoError(t, db1.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	all, err := db2.ListByType("customer")
	require.NoError(t, err)
	require.Len(t, all, 5)

	for i := 5; i < 10; i++ {
		_, err := db2.SaveEntity(customer(string(rune('a'+i)), "name", "NW"))
		require.NoError(t, err)
	}
	require.NoError(t, db2.Compact())
	require.NoError(t, db2.Close())

	db3, err := Open(cfg)
	require.NoError(t, err)
	defer db3.Close()
	all, err = db3.ListByType("customer")
	require.NoError(t, err)
	require.Len(t, all, 10)
	require.Zero(t, db3.Stats().StorageSize)
}

// TestGraphBFS exercises an end-to-end scenario.
func TestGraphBFS(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SaveEntity(customer("c1", "Acme", "NW"))
	require.NoError(t, err)
	_, err = db.SaveEntity(&entity.Entity{EntityType: "user", EntityID: "u1"})
	require.NoError(t, err)
	_, err = db.SaveEntity(&entity.Entity{EntityType: "product", EntityID: "p1"})
	require.NoError(t, err)

	_, err = db.AddRelationship("customer", "c1", "user", "u1", "EMPLOYS", nil)
	require.NoError(t, err)
	_, err = db.AddRelationship("user", "u1", "product", "p1", "USES", nil)
	require.NoError(t, err)
	_, err = db.AddRelationship("customer", "c1", "product", "p1", "PURCHASED", nil)
	require.NoError(t, err)

	paths, err := db.FindPath("customer:c1", "product:p1", 3)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, []string{"customer:c1", "product:p1"}, paths[0].Nodes)
	require.Equal(t, "PURCHASED", paths[0].Edges[0].Type)
}

func TestQueryGraphBothDirections(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SaveEntity(&entity.Entity{EntityType: "customer", EntityID: "c1"})
	require.NoError(t, err)
	_, err = db.SaveEntity(&entity.Entity{EntityType: "user", EntityID: "u1"})
	require.NoError(t, err)
	_, err = db.AddRelationship("customer", "c1", "user", "u1", "EMPLOYS", nil)
	require.NoError(t, err)

	res, err := db.QueryGraph([]string{"user:u1"}, graph.Traversal{Direction: graph.DirectionBoth, MaxDepth: 1}, graph.ReturnNodes)
	require.NoError(t, err)
	require.Contains(t, res.Nodes, "customer:c1")
}

func TestSaveEntityWithInlineEdgesMaintainsEdgeIndex(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SaveEntity(&entity.Entity{EntityType: "user", EntityID: "u1"})
	require.NoError(t, err)

	c := customer("c1", "Acme", "NW")
	c.Edges = []entity.Edge{{ID: "e1", Type: "EMPLOYS", Target: "user:u1"}}
	_, err = db.SaveEntity(c)
	require.NoError(t, err)

	res, err := db.QueryGraph([]string{"user:u1"}, graph.Traversal{Direction: graph.DirectionIn, MaxDepth: 1}, graph.ReturnNodes)
	require.NoError(t, err)
	require.Contains(t, res.Nodes, "customer:c1")
}

func TestDeleteEntityInvalidatesCache(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SaveEntity(customer("c1", "Acme", "NW"))
	require.NoError(t, err)

	_, err = db.GetEntity("customer", "c1")
	require.NoError(t, err)

	require.NoError(t, db.DeleteEntity("customer", "c1"))

	got, err := db.GetEntity("customer", "c1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestIndexAgreement(t *testing.T) {
	db := openTestDB(t)
	for id, region := range map[string]string{"c1": "NW", "c2": "NE", "c3": "NW"} {
		_, err := db.SaveEntity(customer(id, id, region))
		require.NoError(t, err)
	}
	_, err := db.CreateHashIndex("customer", "", "region", index.Options{})
	require.NoError(t, err)

	withIndex, err := db.Query(context.Background(), query.Descriptor{
		Primary: "customer", UseIndexes: true,
		Filter: map[string]query.Cond{"region": {Op: "eq", Value: value.String("NW")}},
	})
	require.NoError(t, err)

	withoutIndex, err := db.Query(context.Background(), query.Descriptor{
		Primary: "customer", UseIndexes: false,
		Filter: map[string]query.Cond{"region": {Op: "eq", Value: value.String("NW")}},
	})
	require.NoError(t, err)

	require.ElementsMatch(t, idsOf(withIndex.Rows), idsOf(withoutIndex.Rows))
}

func TestSweepDanglingEdgesRemovesOnlyBrokenTargets(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SaveEntity(customer("c1", "Acme", "NW"))
	require.NoError(t, err)
	_, err = db.SaveEntity(&entity.Entity{EntityType: "user", EntityID: "u1"})
	require.NoError(t, err)

	_, err = db.AddRelationship("customer", "c1", "user", "u1", "EMPLOYS", nil)
	require.NoError(t, err)
	_, err = db.AddRelationship("customer", "c1", "user", "ghost", "EMPLOYS", nil)
	require.NoError(t, err)

	removed, err := db.SweepDanglingEdges()
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	got, err := db.GetEntity("customer", "c1")
	require.NoError(t, err)
	require.Len(t, got.Edges, 1)
	require.Equal(t, "user:u1", got.Edges[0].Target)
}

func idsOf(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["id"]
	}
	return out
}
