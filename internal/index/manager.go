package index

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/logging"
	"github.com/fiberdb/fiberdb/internal/value"
)

// Stats reports index usage.
type Stats struct {
	Hits              uint64
	TotalLookupTime   time.Duration
	AverageLookupTime time.Duration
	Size              int
}

// Result is what find_and_query returns on a successful index lookup.
type Result struct {
	IndexID    string
	IndexName  string
	IndexType  Kind
	MatchedIDs map[string]struct{}
	LookupTime time.Duration
}

type registeredIndex struct {
	def         Definition
	h           handle
	hits        uint64
	totalLookup time.Duration
}

// Manager builds and maintains hash/range/text indexes and answers
// condition lookups for the query engine.
type Manager struct {
	mu  sync.RWMutex
	log *logging.Logger

	byID         map[string]*registeredIndex
	byEntityType map[string][]*registeredIndex
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		log:          logging.New("index"),
		byID:         make(map[string]*registeredIndex),
		byEntityType: make(map[string][]*registeredIndex),
	}
}

func newIndexID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "idx_" + hex.EncodeToString(b[:])
}

// CreateIndex scans entities to populate a new index over def, then
// registers it for incremental maintenance. Returns the generated index
// ID.
func (m *Manager) CreateIndex(def Definition, entities []*entity.Entity) (string, error) {
	if def.EntityType == "" || def.Field == "" {
		return "", fmt.Errorf("index: entityType and field are required")
	}
	def.ID = newIndexID()
	if def.Name == "" {
		def.Name = fmt.Sprintf("%s.%s.%s", def.EntityType, def.AttachedType, def.Field)
	}

	h := newHandle(def)
	for _, e := range entities {
		if e.EntityType != def.EntityType {
			continue
		}
		for _, v := range extractValues(e, def) {
			h.insert(e.EntityID, v)
		}
	}

	reg := &registeredIndex{def: def, h: h}

	m.mu.Lock()
	m.byID[def.ID] = reg
	m.byEntityType[def.EntityType] = append(m.byEntityType[def.EntityType], reg)
	m.mu.Unlock()

	return def.ID, nil
}

// ListIndexes returns the definitions of every registered index.
func (m *Manager) ListIndexes() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Definition, 0, len(m.byID))
	for _, reg := range m.byID {
		out = append(out, reg.def)
	}
	return out
}

// GetIndexStats returns usage statistics for a single index.
func (m *Manager) GetIndexStats(indexID string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.byID[indexID]
	if !ok {
		return Stats{}, false
	}
	stats := Stats{Hits: reg.hits, TotalLookupTime: reg.totalLookup, Size: reg.h.size()}
	if reg.hits > 0 {
		stats.AverageLookupTime = reg.totalLookup / time.Duration(reg.hits)
	}
	return stats, true
}

// FindAndQuery returns the posting-list match for condition against the
// first registered index covering (entityType, field, attachedType) whose
// kind supports cond.Op, or ok=false when no index applies.
func (m *Manager) FindAndQuery(entityType, field string, cond Condition, attachedType string) (Result, bool) {
	// The whole lookup runs under the write lock: handles have no
	// internal locking, so a lookup outside it would race OnWrite.
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, reg := range m.byEntityType[entityType] {
		if !reg.def.matchesField(entityType, attachedType, field) {
			continue
		}
		start := time.Now()
		ids, ok := reg.h.lookup(cond)
		if !ok {
			continue
		}
		elapsed := time.Since(start)
		reg.hits++
		reg.totalLookup += elapsed
		return Result{
			IndexID:    reg.def.ID,
			IndexName:  reg.def.Name,
			IndexType:  reg.def.Kind,
			MatchedIDs: ids,
			LookupTime: elapsed,
		}, true
	}
	return Result{}, false
}

// OnWrite re-indexes e across every registered index for its entity type:
// stale postings for e's id are removed, then fresh postings are inserted
// from e's current state.
func (m *Manager) OnWrite(e *entity.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.byEntityType[e.EntityType] {
		reg.h.removeEntity(e.EntityID)
		for _, v := range extractValues(e, reg.def) {
			reg.h.insert(e.EntityID, v)
		}
	}
}

// OnDelete removes every posting for key across all indexes covering its
// entity type.
func (m *Manager) OnDelete(key entity.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.byEntityType[key.Type] {
		reg.h.removeEntity(key.ID)
	}
}

// extractValues pulls the Values a definition indexes out of an entity:
// a single primary-attribute value, or one value per matching element of
// an attached document collection (an entity may contribute more than one
// posting in the attached case).
func extractValues(e *entity.Entity, def Definition) []value.Value {
	if def.AttachedType == "" {
		v, ok := e.Attributes[def.Field]
		if !ok {
			return nil
		}
		if def.Options.IgnoreNull && v.IsNull() {
			return nil
		}
		return []value.Value{v}
	}

	docs := e.Documents[def.AttachedType]
	out := make([]value.Value, 0, len(docs))
	for _, doc := range docs {
		v, ok := doc[def.Field]
		if !ok {
			continue
		}
		if def.Options.IgnoreNull && v.IsNull() {
			continue
		}
		out = append(out, v)
	}
	return out
}
