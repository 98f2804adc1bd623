package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiberdb/fiberdb/internal/logging"
	"github.com/fiberdb/fiberdb/internal/walog"
)

// Store-level sentinel errors. NotFound conditions are reported as
// (nil, nil) rather than an error: absence is not failure.
var (
	ErrClosed = errors.New("entity: store is closed")
)

// Store is FiberDB's durable entity store: an in-memory map guarded by a
// multi-reader/single-writer lock, backed by a write-ahead log for
// durability and crash recovery.
//
// The locking discipline holds the RWMutex for the duration of a
// mutation and releases it before returning a cloned copy to the
// caller.
type Store struct {
	mu  sync.RWMutex
	wal *walog.WAL
	log *logging.Logger

	entities map[Key]*Entity

	onCompact func([]*Entity)

	closed bool
}

// SetCompactionHook registers fn to run with the full entity set every
// time a compaction completes. Used by the custom-engine wiring
// (internal/storage/badgersnap) to mirror compacted snapshots into a
// Badger instance alongside the WAL's own flat-file snapshot.
func (s *Store) SetCompactionHook(fn func([]*Entity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCompact = fn
}

// Open replays the WAL at dir (creating it if absent) and returns a ready
// Store. compactionThreshold <= 0 uses walog's default.
func Open(dir string, compactionThreshold int) (*Store, error) {
	cfg := walog.DefaultConfig(dir)
	if compactionThreshold > 0 {
		cfg.CompactionThreshold = compactionThreshold
	}
	wal, err := walog.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("entity: open wal: %w", err)
	}

	s := &Store{
		wal:      wal,
		log:      logging.New("entity"),
		entities: make(map[Key]*Entity),
	}

	if err := wal.Replay(s.apply); err != nil {
		return nil, fmt.Errorf("entity: replay: %w", err)
	}

	return s, nil
}

// apply folds a single WAL entry into the in-memory map during replay or
// live writes. AddEdge/RemoveEdge entries carry the full post-mutation
// entity in Data (see AddEdge/RemoveEdge below), so they apply the same
// way an UPDATE does.
func (s *Store) apply(entry walog.Entry) error {
	key := Key{Type: entry.EntityType, ID: entry.EntityID}
	switch entry.Operation {
	case walog.OpInsert, walog.OpUpdate, walog.OpAddEdge, walog.OpRemoveEdge:
		// AddEdge/RemoveEdge carry the full post-mutation entity in Data
		// (edgeData carries just the edge, for observability/debugging),
		// so replaying them is identical to replaying an UPDATE.
		var e Entity
		if err := json.Unmarshal(entry.Data, &e); err != nil {
			return fmt.Errorf("decode entity %s: %w", key, err)
		}
		s.entities[key] = &e
	case walog.OpDelete:
		delete(s.entities, key)
	}
	return nil
}

// Stats reports store-level counters for /stats endpoints and tests.
type Stats struct {
	EntityCount int
	WAL         walog.Stats
}

// Stats returns a snapshot of store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{EntityCount: len(s.entities), WAL: s.wal.Stats()}
}

// Save inserts or replaces an entity. The entity's Meta.Version is
// incremented and Meta.Updated set to now; Meta.Created is preserved on
// update and set to now on first insert.
func (s *Store) Save(e *Entity) (*Entity, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	key := e.Key()
	stored := e.Clone()
	now := time.Now().UTC()

	op := walog.OpInsert
	if existing, ok := s.entities[key]; ok {
		op = walog.OpUpdate
		stored.Meta.Created = existing.Meta.Created
		stored.Meta.Version = existing.Meta.Version + 1
	} else {
		stored.Meta.Created = now
		stored.Meta.Version = 1
	}
	stored.Meta.Updated = now

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("entity: marshal for wal: %w", err)
	}
	if _, err := s.wal.WriteEntry(op, key.Type, key.ID, data, nil, ""); err != nil {
		return nil, fmt.Errorf("entity: append wal: %w", err)
	}

	s.entities[key] = stored
	s.maybeCompactLocked()

	return stored.Clone(), nil
}

// Get returns a deep copy of the entity at key, or (nil, nil) if absent.
func (s *Store) Get(key Key) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.entities[key]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

// Delete removes the entity at key. Deleting an absent key is a no-op,
// not an error.
func (s *Store) Delete(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.entities[key]; !ok {
		return nil
	}

	if _, err := s.wal.WriteEntry(walog.OpDelete, key.Type, key.ID, []byte("null"), nil, ""); err != nil {
		return fmt.Errorf("entity: append wal: %w", err)
	}

	delete(s.entities, key)
	s.maybeCompactLocked()
	return nil
}

// ListByType returns a deep copy of every entity of the given type. Order
// is unspecified; callers that need a stable order should sort by ID.
func (s *Store) ListByType(entityType string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []*Entity
	for key, e := range s.entities {
		if key.Type == entityType {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// All returns a deep copy of every entity in the store. Used by the index
// manager and graph layer to build their derived structures at startup.
func (s *Store) All() ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e.Clone())
	}
	return out, nil
}

// AddEdge appends an edge to the entity at key and persists the whole
// entity as a WAL ADD_EDGE entry (data carries the updated entity, edgeData
// just the edge, for observability). Dangling targets are permitted.
func (s *Store) AddEdge(key Key, edge Edge) (*Entity, error) {
	if !validTarget(edge.Target) {
		return nil, ErrInvalidEdge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	existing, ok := s.entities[key]
	if !ok {
		return nil, nil
	}
	stored := existing.Clone()
	stored.Edges = append(stored.Edges, edge)
	stored.Meta.Updated = time.Now().UTC()
	stored.Meta.Version++

	edgeData, err := json.Marshal(edge)
	if err != nil {
		return nil, fmt.Errorf("entity: marshal edge for wal: %w", err)
	}
	entityData, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("entity: marshal entity for wal: %w", err)
	}
	if _, err := s.wal.WriteEntry(walog.OpAddEdge, key.Type, key.ID, entityData, edgeData, ""); err != nil {
		return nil, fmt.Errorf("entity: append wal: %w", err)
	}

	s.entities[key] = stored
	s.maybeCompactLocked()
	return stored.Clone(), nil
}

// RemoveEdge removes every edge from the entity at key whose ID matches
// edgeID. Removing an absent edge is a no-op.
func (s *Store) RemoveEdge(key Key, edgeID string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	existing, ok := s.entities[key]
	if !ok {
		return nil, nil
	}

	stored := existing.Clone()
	kept := stored.Edges[:0]
	var removed *Edge
	for _, edge := range stored.Edges {
		if edge.ID == edgeID {
			e := edge
			removed = &e
			continue
		}
		kept = append(kept, edge)
	}
	if removed == nil {
		return existing.Clone(), nil
	}
	stored.Edges = kept
	stored.Meta.Updated = time.Now().UTC()
	stored.Meta.Version++

	edgeData, err := json.Marshal(removed)
	if err != nil {
		return nil, fmt.Errorf("entity: marshal edge for wal: %w", err)
	}
	entityData, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("entity: marshal entity for wal: %w", err)
	}
	if _, err := s.wal.WriteEntry(walog.OpRemoveEdge, key.Type, key.ID, entityData, edgeData, ""); err != nil {
		return nil, fmt.Errorf("entity: append wal: %w", err)
	}

	s.entities[key] = stored
	s.maybeCompactLocked()
	return stored.Clone(), nil
}

// maybeCompactLocked triggers a synchronous WAL compaction when the
// in-memory entry count crosses the configured threshold. Must be called
// with s.mu held for writing.
func (s *Store) maybeCompactLocked() {
	if !s.wal.ShouldCompact() {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warnf("compaction failed: %v", err)
	}
}

// Compact forces a synchronous WAL compaction regardless of whether the
// entry-count threshold has been reached, exposed for the CLI's
// "fiberdb compact" subcommand.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.compactLocked()
}

// compactLocked runs the WAL compaction and fires the onCompact hook. Must
// be called with s.mu held for writing.
func (s *Store) compactLocked() error {
	if err := s.wal.Compact(); err != nil {
		return err
	}
	if s.onCompact != nil {
		snapshot := make([]*Entity, 0, len(s.entities))
		for _, e := range s.entities {
			snapshot = append(snapshot, e.Clone())
		}
		s.onCompact(snapshot)
	}
	return nil
}

// Close flushes and closes the underlying WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.wal.Close()
}
