package cache

import (
	"time"

	"github.com/fiberdb/fiberdb/internal/entity"
)

// defaultFileExistsTTL is the file-existence cache's default TTL.
const defaultFileExistsTTL = 5 * time.Second

// DocumentCache caches entities by "type:id", pure LRU.
type DocumentCache struct {
	inner *Cache[entity.Key, *entity.Entity]
}

// NewDocumentCache returns a document cache bounded to maxSize entries.
func NewDocumentCache(maxSize int) *DocumentCache {
	return &DocumentCache{inner: New[entity.Key, *entity.Entity](maxSize, 0)}
}

// Get returns a cached entity, if present.
func (d *DocumentCache) Get(key entity.Key) (*entity.Entity, bool) { return d.inner.Get(key) }

// Set caches an entity.
func (d *DocumentCache) Set(key entity.Key, e *entity.Entity) { d.inner.Set(key, e) }

// Delete evicts a single entity.
func (d *DocumentCache) Delete(key entity.Key) { d.inner.Delete(key) }

// Clear empties the cache.
func (d *DocumentCache) Clear() { d.inner.Clear() }

// Stats reports cache counters.
func (d *DocumentCache) Stats() Stats { return d.inner.Stats() }

// queryResultEntry tags a cached query result with the entity type it was
// computed over, so a write to that type can purge it wholesale.
type queryResultEntry struct {
	entityType string
	rows       []map[string]any
}

// QueryResultCache caches projected query results keyed by the canonical
// serialization of their descriptor. LRU, invalidated
// wholesale on any write to the entity type the cached query read.
type QueryResultCache struct {
	inner *Cache[string, queryResultEntry]
}

// NewQueryResultCache returns a query-result cache bounded to maxSize
// entries.
func NewQueryResultCache(maxSize int) *QueryResultCache {
	return &QueryResultCache{inner: New[string, queryResultEntry](maxSize, 0)}
}

// Get returns the cached rows for a canonical query key.
func (q *QueryResultCache) Get(key string) ([]map[string]any, bool) {
	ent, ok := q.inner.Get(key)
	if !ok {
		return nil, false
	}
	return ent.rows, true
}

// Set caches rows under key, tagged with the entity type the query read.
func (q *QueryResultCache) Set(key, entityType string, rows []map[string]any) {
	q.inner.Set(key, queryResultEntry{entityType: entityType, rows: rows})
}

// InvalidateType purges every cached result computed over entityType.
func (q *QueryResultCache) InvalidateType(entityType string) {
	q.inner.DeleteWhere(func(e queryResultEntry) bool { return e.entityType == entityType })
}

// Clear empties the cache.
func (q *QueryResultCache) Clear() { q.inner.Clear() }

// Stats reports cache counters.
func (q *QueryResultCache) Stats() Stats { return q.inner.Stats() }

// FileExistsCache caches filesystem existence checks by path with a
// default TTL and per-call override.
type FileExistsCache struct {
	inner *Cache[string, bool]
}

// NewFileExistsCache returns a file-existence cache with the default TTL.
func NewFileExistsCache(maxSize int) *FileExistsCache {
	return &FileExistsCache{inner: New[string, bool](maxSize, defaultFileExistsTTL)}
}

// Get returns the cached existence result for path.
func (f *FileExistsCache) Get(path string) (bool, bool) { return f.inner.Get(path) }

// Set caches exists for path using the cache's default TTL.
func (f *FileExistsCache) Set(path string, exists bool) { f.inner.Set(path, exists) }

// SetWithTTL caches exists for path with an explicit TTL override.
func (f *FileExistsCache) SetWithTTL(path string, exists bool, ttl time.Duration) {
	f.inner.SetWithTTL(path, exists, ttl)
}

// Clear empties the cache.
func (f *FileExistsCache) Clear() { f.inner.Clear() }

// Stats reports cache counters.
func (f *FileExistsCache) Stats() Stats { return f.inner.Stats() }

// Tier bundles the three caches an Engine owns, plus the invalidation
// helper writes need. A Tier is an explicit value constructed per
// Engine, never a package-level singleton.
type Tier struct {
	Documents *DocumentCache
	Queries   *QueryResultCache
	Files     *FileExistsCache
}

// NewTier constructs a cache Tier sized by maxSize.
func NewTier(maxSize int) *Tier {
	return &Tier{
		Documents: NewDocumentCache(maxSize),
		Queries:   NewQueryResultCache(maxSize),
		Files:     NewFileExistsCache(maxSize),
	}
}

// InvalidateEntityCaches evicts the matching document-cache key and
// purges every query-cache entry referencing entityType.
func (t *Tier) InvalidateEntityCaches(key entity.Key) {
	t.Documents.Delete(key)
	t.Queries.InvalidateType(key.Type)
}

// ClearAll empties every cache in the tier.
func (t *Tier) ClearAll() {
	t.Documents.Clear()
	t.Queries.Clear()
	t.Files.Clear()
}

// NamedStats returns the {name, size, maxSize, hits, misses, hitRate}
// array the GET /cache endpoint expects, using the canonical cache names.
func (t *Tier) NamedStats() []NamedStat {
	return []NamedStat{
		{Name: "document-cache", Stats: t.Documents.Stats()},
		{Name: "query-cache", Stats: t.Queries.Stats()},
		{Name: "file-exists-cache", Stats: t.Files.Stats()},
	}
}

// NamedStat pairs a cache's canonical name with its Stats.
type NamedStat struct {
	Name string
	Stats
}
