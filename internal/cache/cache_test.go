package cache

import (
	"testing"
	"time"

	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/stretchr/testify/require"
)

func TestLRUEviction(t *testing.T) {
	c := New[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts "a", the least recently used

	_, ok := c.Get("a")
	require.False(t, ok)

	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestGetPromotesToMostRecentlyUsed(t *testing.T) {
	c := New[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // touch a, making b the LRU victim
	c.Set("c", 3)

	_, ok := c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
}

func TestTTLExpiration(t *testing.T) {
	c := New[string, int](10, 10*time.Millisecond)
	c.Set("a", 1)

	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	require.False(t, ok)
}

func TestPerEntryTTLOverride(t *testing.T) {
	c := New[string, int](10, time.Hour)
	c.SetWithTTL("short", 1, 10*time.Millisecond)
	c.Set("long", 2)

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("short")
	require.False(t, ok)
	_, ok = c.Get("long")
	require.True(t, ok)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := New[string, int](10, 0)
	c.Set("a", 1)

	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	require.EqualValues(t, 1, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
	require.Equal(t, 50.0, stats.HitRate)
}

func TestDeleteWhere(t *testing.T) {
	c := New[string, queryResultEntry](10, 0)
	c.Set("q1", queryResultEntry{entityType: "customer"})
	c.Set("q2", queryResultEntry{entityType: "user"})

	c.DeleteWhere(func(e queryResultEntry) bool { return e.entityType == "customer" })

	_, ok := c.Get("q1")
	require.False(t, ok)
	_, ok = c.Get("q2")
	require.True(t, ok)
}

func TestTierInvalidateEntityCaches(t *testing.T) {
	tier := NewTier(10)
	tier.Queries.Set("q1", "customer", []map[string]any{{"id": "c1"}})
	tier.Queries.Set("q2", "user", []map[string]any{{"id": "u1"}})

	tier.InvalidateEntityCaches(entity.Key{Type: "customer", ID: "c1"})

	_, ok := tier.Queries.Get("q1")
	require.False(t, ok)
	_, ok = tier.Queries.Get("q2")
	require.True(t, ok)
}
