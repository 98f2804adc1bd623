package index

import (
	"testing"

	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/value"
	"github.com/stretchr/testify/require"
)

func customer(id string, revenue float64) *entity.Entity {
	return &entity.Entity{
		EntityType: "customer",
		EntityID:   id,
		Attributes: map[string]value.Value{"revenue": value.Number(revenue)},
	}
}

func TestHashIndexEqAndIn(t *testing.T) {
	m := NewManager()
	entities := []*entity.Entity{customer("c1", 500), customer("c2", 1500), customer("c3", 1500)}
	id, err := m.CreateIndex(Definition{EntityType: "customer", Field: "revenue", Kind: KindHash}, entities)
	require.NoError(t, err)

	res, ok := m.FindAndQuery("customer", "revenue", Condition{Op: OpEq, Value: value.Number(1500)}, "")
	require.True(t, ok)
	require.Equal(t, id, res.IndexID)
	require.Len(t, res.MatchedIDs, 2)
	_, hasC2 := res.MatchedIDs["c2"]
	require.True(t, hasC2)
}

func TestRangeIndexGtLt(t *testing.T) {
	m := NewManager()
	entities := []*entity.Entity{customer("c1", 500), customer("c2", 1500), customer("c3", 2500)}
	_, err := m.CreateIndex(Definition{EntityType: "customer", Field: "revenue", Kind: KindRange}, entities)
	require.NoError(t, err)

	res, ok := m.FindAndQuery("customer", "revenue", Condition{Op: OpGt, Value: value.Number(1000)}, "")
	require.True(t, ok)
	require.Len(t, res.MatchedIDs, 2)
	_, hasC1 := res.MatchedIDs["c1"]
	require.False(t, hasC1)

	res, ok = m.FindAndQuery("customer", "revenue", Condition{Op: OpLt, Value: value.Number(1000)}, "")
	require.True(t, ok)
	require.Len(t, res.MatchedIDs, 1)
}

func TestTextIndexContains(t *testing.T) {
	m := NewManager()
	entities := []*entity.Entity{
		{EntityType: "article", EntityID: "a1", Attributes: map[string]value.Value{"body": value.String("the quick brown fox")}},
		{EntityType: "article", EntityID: "a2", Attributes: map[string]value.Value{"body": value.String("lazy dog sleeps")}},
	}
	_, err := m.CreateIndex(Definition{EntityType: "article", Field: "body", Kind: KindText}, entities)
	require.NoError(t, err)

	res, ok := m.FindAndQuery("article", "body", Condition{Op: OpContains, Value: value.String("quick")}, "")
	require.True(t, ok)
	require.Len(t, res.MatchedIDs, 1)
	_, hasA1 := res.MatchedIDs["a1"]
	require.True(t, hasA1)
}

func TestTextIndexContainsPartialToken(t *testing.T) {
	m := NewManager()
	entities := []*entity.Entity{
		{EntityType: "article", EntityID: "a1", Attributes: map[string]value.Value{"body": value.String("the quick brown fox")}},
	}
	_, err := m.CreateIndex(Definition{EntityType: "article", Field: "body", Kind: KindText}, entities)
	require.NoError(t, err)

	res, ok := m.FindAndQuery("article", "body", Condition{Op: OpContains, Value: value.String("qui")}, "")
	require.True(t, ok)
	require.Len(t, res.MatchedIDs, 1)
}

func TestOnWriteReindexesStaleValue(t *testing.T) {
	m := NewManager()
	entities := []*entity.Entity{customer("c1", 500)}
	_, err := m.CreateIndex(Definition{EntityType: "customer", Field: "revenue", Kind: KindHash}, entities)
	require.NoError(t, err)

	updated := customer("c1", 9000)
	m.OnWrite(updated)

	res, ok := m.FindAndQuery("customer", "revenue", Condition{Op: OpEq, Value: value.Number(500)}, "")
	require.True(t, ok)
	require.Empty(t, res.MatchedIDs)

	res, ok = m.FindAndQuery("customer", "revenue", Condition{Op: OpEq, Value: value.Number(9000)}, "")
	require.True(t, ok)
	require.Len(t, res.MatchedIDs, 1)
}

func TestOnDeleteRemovesPostings(t *testing.T) {
	m := NewManager()
	entities := []*entity.Entity{customer("c1", 500)}
	_, err := m.CreateIndex(Definition{EntityType: "customer", Field: "revenue", Kind: KindHash}, entities)
	require.NoError(t, err)

	m.OnDelete(entity.Key{Type: "customer", ID: "c1"})

	res, ok := m.FindAndQuery("customer", "revenue", Condition{Op: OpEq, Value: value.Number(500)}, "")
	require.True(t, ok)
	require.Empty(t, res.MatchedIDs)
}

func TestFindAndQueryNoIndexReturnsFalse(t *testing.T) {
	m := NewManager()
	_, ok := m.FindAndQuery("customer", "revenue", Condition{Op: OpEq, Value: value.Number(1)}, "")
	require.False(t, ok)
}

func TestAttachedFieldIndexing(t *testing.T) {
	m := NewManager()
	entities := []*entity.Entity{
		{
			EntityType: "customer",
			EntityID:   "c1",
			Documents: map[string][]map[string]value.Value{
				"orders": {
					{"status": value.String("open")},
					{"status": value.String("closed")},
				},
			},
		},
	}
	_, err := m.CreateIndex(Definition{EntityType: "customer", AttachedType: "orders", Field: "status", Kind: KindHash}, entities)
	require.NoError(t, err)

	res, ok := m.FindAndQuery("customer", "status", Condition{Op: OpEq, Value: value.String("open")}, "orders")
	require.True(t, ok)
	require.Len(t, res.MatchedIDs, 1)
}
