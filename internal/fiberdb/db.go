// Package fiberdb wires the entity store, cache tier, index manager,
// graph layer, query engine, and performance monitor into a single
// embeddable DB value.
package fiberdb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fiberdb/fiberdb/internal/cache"
	"github.com/fiberdb/fiberdb/internal/config"
	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/graph"
	"github.com/fiberdb/fiberdb/internal/index"
	"github.com/fiberdb/fiberdb/internal/logging"
	"github.com/fiberdb/fiberdb/internal/monitor"
	"github.com/fiberdb/fiberdb/internal/query"
	"github.com/fiberdb/fiberdb/internal/storage/badgersnap"
	"github.com/fiberdb/fiberdb/internal/value"
)

// DB is FiberDB's embeddable handle: one instance per database, owning
// every subsystem leaves-first: WAL inside the entity store, then
// caches, indexes, query engine, graph, monitor.
type DB struct {
	cfg *config.Config
	log *logging.Logger

	store     *entity.Store
	caches    *cache.Tier
	indexes   *index.Manager
	edgeIndex *graph.Index
	graph     *graph.Graph
	query     *query.Engine
	monitor   *monitor.Manager
	snapshots *badgersnap.Store
}

// Open builds a DB from cfg: replays the WAL, rebuilds the graph's
// inverted edge index from the resulting entity set, and constructs the
// cache tier, query engine, and performance monitor. The index manager
// starts empty: index definitions are not persisted, so indexes created
// before a restart are absent after it.
func Open(cfg *config.Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fiberdb: %w", err)
	}

	store, err := entity.Open(cfg.Storage.DataPath, cfg.Storage.CompactionThreshold)
	if err != nil {
		return nil, fmt.Errorf("fiberdb: open store: %w", err)
	}

	var snaps *badgersnap.Store
	if cfg.Storage.Engine == config.EngineCustom {
		snaps, err = badgersnap.Open(filepath.Join(cfg.Storage.DataPath, "snapshot.badger"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("fiberdb: open badger snapshot store: %w", err)
		}
		store.SetCompactionHook(func(entities []*entity.Entity) {
			if err := snaps.PutAll(entities); err != nil {
				logging.New("fiberdb").Warnf("badger snapshot mirror failed: %v", err)
			}
		})
	}

	all, err := store.All()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("fiberdb: list entities after replay: %w", err)
	}

	edgeIndex := graph.NewIndex()
	edgeIndex.Rebuild(all)

	db := &DB{
		cfg:       cfg,
		log:       logging.New("fiberdb"),
		store:     store,
		caches:    cache.NewTier(cfg.Cache.Size),
		indexes:   index.NewManager(),
		edgeIndex: edgeIndex,
		snapshots: snaps,
	}
	db.graph = graph.New(store, edgeIndex)
	db.query = query.New(store, db.caches, db.indexes, query.ScryptDecryptor{}, cfg.Query.MaxConcurrentQueries, cfg.Query.Timeout, cfg.Query.TTLDays)
	db.monitor = monitor.NewManager(logSink{db.log})

	return db, nil
}

// logSink delivers fired alerts to the component logger when no other
// sink is configured, matching monitor.Manager's own no-sink fallback
// but giving DB callers an explicit, swappable default.
type logSink struct{ log *logging.Logger }

func (s logSink) Alert(event monitor.AlertEvent) {
	s.log.Warnf("alert %s: %s", event.Rule, event.Message)
}

// SetAlertSink replaces the performance monitor's alert delivery target
// without discarding recorded samples or registered rules.
func (db *DB) SetAlertSink(sink monitor.Sink) {
	db.monitor.SetSink(sink)
}

// Monitor exposes the performance monitor for recording samples and
// registering additional alert rules.
func (db *DB) Monitor() *monitor.Manager { return db.monitor }

// Caches exposes the cache tier for /cache endpoint adapters.
func (db *DB) Caches() *cache.Tier { return db.caches }

// Indexes exposes the index manager for index-admin adapters.
func (db *DB) Indexes() *index.Manager { return db.indexes }

// SaveEntity validates and persists e, then propagates the write to the
// cache tier, index manager, and graph edge index. This propagation —
// invalidate caches, re-index, update the inverted edge map — is DB's
// responsibility rather than the entity store's, keeping the store
// itself a plain durable map.
func (db *DB) SaveEntity(e *entity.Entity) (*entity.Entity, error) {
	saved, err := db.store.Save(e)
	if err != nil {
		return nil, err
	}
	db.caches.InvalidateEntityCaches(saved.Key())
	db.indexes.OnWrite(saved)
	db.edgeIndex.OnEntityWrite(saved.Key().String(), saved.Edges)
	return saved, nil
}

// GetEntity returns a cached or stored entity, or (nil, nil) if absent.
func (db *DB) GetEntity(entityType, id string) (*entity.Entity, error) {
	key := entity.Key{Type: entityType, ID: id}
	if cached, ok := db.caches.Documents.Get(key); ok {
		return cached, nil
	}
	e, err := db.store.Get(key)
	if err != nil {
		return nil, err
	}
	if e != nil {
		db.caches.Documents.Set(key, e)
	}
	return e, nil
}

// DeleteEntity removes the entity at (type, id) and propagates the write
// to caches and indexes. Outgoing edges are
// discarded with the entity; incoming edges recorded by other entities
// become dangling rather than being swept.
func (db *DB) DeleteEntity(entityType, id string) error {
	key := entity.Key{Type: entityType, ID: id}
	if err := db.store.Delete(key); err != nil {
		return err
	}
	db.caches.InvalidateEntityCaches(key)
	db.indexes.OnDelete(key)
	db.edgeIndex.OnEntityDelete(key.String())
	return nil
}

// AddRelationship constructs a fresh Edge from fromType:fromID to
// toType:toID and persists it on the source entity.
func (db *DB) AddRelationship(fromType, fromID, toType, toID, relationType string, properties map[string]any) (*entity.Entity, error) {
	key := entity.Key{Type: fromType, ID: fromID}
	edge := entity.Edge{
		ID:         newEdgeID(),
		Type:       relationType,
		Target:     toType + ":" + toID,
		Properties: propertiesToValues(properties),
	}

	updated, err := db.store.AddEdge(key, edge)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		db.caches.InvalidateEntityCaches(key)
		db.indexes.OnWrite(updated)
		db.edgeIndex.OnAddEdge(key.String(), edge)
	}
	return updated, nil
}

// RemoveRelationship removes the edge identified by edgeID from the
// entity at (fromType, fromID).
func (db *DB) RemoveRelationship(fromType, fromID, edgeID string) (*entity.Entity, error) {
	key := entity.Key{Type: fromType, ID: fromID}
	updated, err := db.store.RemoveEdge(key, edgeID)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		db.caches.InvalidateEntityCaches(key)
		db.indexes.OnWrite(updated)
		db.edgeIndex.OnRemoveEdge(key.String(), edgeID)
	}
	return updated, nil
}

// ListByType returns every entity of the given type.
func (db *DB) ListByType(entityType string) ([]*entity.Entity, error) {
	return db.store.ListByType(entityType)
}

// Compact forces a synchronous WAL snapshot compaction regardless of the
// configured entry-count threshold.
func (db *DB) Compact() error {
	return db.store.Compact()
}

// CreateHashIndex registers a hash index over field.
func (db *DB) CreateHashIndex(entityType, attachedType, field string, opts index.Options) (string, error) {
	return db.createIndex(index.KindHash, entityType, attachedType, field, opts)
}

// CreateRangeIndex registers a range index over field.
func (db *DB) CreateRangeIndex(entityType, attachedType, field string, opts index.Options) (string, error) {
	return db.createIndex(index.KindRange, entityType, attachedType, field, opts)
}

// CreateTextIndex registers a text index over field.
func (db *DB) CreateTextIndex(entityType, attachedType, field string, opts index.Options) (string, error) {
	return db.createIndex(index.KindText, entityType, attachedType, field, opts)
}

func (db *DB) createIndex(kind index.Kind, entityType, attachedType, field string, opts index.Options) (string, error) {
	if !db.cfg.Index.Enabled {
		return "", fmt.Errorf("fiberdb: indexing disabled by configuration")
	}
	all, err := db.store.All()
	if err != nil {
		return "", err
	}
	def := index.Definition{EntityType: entityType, AttachedType: attachedType, Field: field, Kind: kind, Options: opts}
	return db.indexes.CreateIndex(def, all)
}

// Query executes desc against the query engine.
// When useIndexes is requested but index.Enabled is false in config, it
// is forced off so FIBERDB_INDEXING_ENABLED=false truly disables index
// usage everywhere, not just at creation time.
func (db *DB) Query(ctx context.Context, desc query.Descriptor) (query.Result, error) {
	if !db.cfg.Index.Enabled {
		desc.UseIndexes = false
	}
	start := time.Now()
	result, err := db.query.Execute(ctx, desc)
	if db.cfg.Metrics.Enabled {
		db.monitor.RecordQuery(monitor.QuerySample{
			Timestamp: start,
			Duration:  time.Since(start),
			Success:   err == nil,
			CacheHit:  result.Metrics != nil && result.Metrics.QueryCacheHit,
		})
	}
	return result, err
}

// QueryGraph runs a graph traversal.
func (db *DB) QueryGraph(startNodes []string, t graph.Traversal, rt graph.ReturnType) (graph.Result, error) {
	return db.graph.QueryGraph(startNodes, t, rt)
}

// FindPath returns every shortest path from->to of length <= maxDepth.
func (db *DB) FindPath(from, to string, maxDepth int) ([]graph.Path, error) {
	return db.graph.FindPath(from, to, maxDepth)
}

// Stats reports store-level counters enriched with cache hit rate and
// the last hour's average query time.
type Stats struct {
	TotalEntities int
	TotalEdges    int
	StorageSize   int64
	CacheHitRate  float64
	AvgQueryTime  time.Duration
}

// Stats aggregates entity-store, WAL, and cache-tier counters.
func (db *DB) Stats() Stats {
	s := db.store.Stats()
	var edges int
	all, err := db.store.All()
	if err == nil {
		for _, e := range all {
			edges += len(e.Edges)
		}
	}

	docStats := db.caches.Documents.Stats()
	queryStats := db.caches.Queries.Stats()
	totalHits := docStats.Hits + queryStats.Hits
	totalLookups := totalHits + docStats.Misses + queryStats.Misses
	hitRate := 0.0
	if totalLookups > 0 {
		hitRate = float64(totalHits) / float64(totalLookups)
	}

	return Stats{
		TotalEntities: s.EntityCount,
		TotalEdges:    edges,
		StorageSize:   s.WAL.WALSizeBytes,
		CacheHitRate:  hitRate,
		AvgQueryTime:  db.monitor.Snapshot(time.Now()).AvgQueryTime,
	}
}

// SweepDanglingEdges removes every edge whose target entity no longer
// exists. Dangling edges are otherwise left in place — this is the optional
// sweep tool implementers may offer instead.
func (db *DB) SweepDanglingEdges() (int, error) {
	all, err := db.store.All()
	if err != nil {
		return 0, fmt.Errorf("fiberdb: sweep: list entities: %w", err)
	}

	removed := 0
	for _, e := range all {
		key := e.Key()
		for _, edge := range e.Edges {
			parts := strings.SplitN(edge.Target, ":", 2)
			if len(parts) != 2 {
				continue
			}
			target, err := db.store.Get(entity.Key{Type: parts[0], ID: parts[1]})
			if err != nil {
				return removed, fmt.Errorf("fiberdb: sweep: lookup %s: %w", edge.Target, err)
			}
			if target != nil {
				continue
			}
			if _, err := db.store.RemoveEdge(key, edge.ID); err != nil {
				return removed, fmt.Errorf("fiberdb: sweep: remove edge %s on %s: %w", edge.ID, key, err)
			}
			if db.edgeIndex != nil {
				db.edgeIndex.OnRemoveEdge(key.String(), edge.ID)
			}
			removed++
		}
	}
	if removed > 0 {
		db.caches.ClearAll()
	}
	return removed, nil
}

// Close flushes and closes every owned resource.
func (db *DB) Close() error {
	if db.snapshots != nil {
		if err := db.snapshots.Close(); err != nil {
			return err
		}
	}
	return db.store.Close()
}

func newEdgeID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "edge_" + hex.EncodeToString(b[:])
}

// propertiesToValues converts a plain Go map (as decoded by an HTTP/CLI
// adapter from JSON) into the Value tree entity.Edge.Properties expects.
func propertiesToValues(properties map[string]any) map[string]value.Value {
	if len(properties) == 0 {
		return nil
	}
	out := make(map[string]value.Value, len(properties))
	for k, v := range properties {
		out[k] = value.FromAny(v)
	}
	return out
}
