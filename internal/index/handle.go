package index

import (
	"sort"
	"strings"

	"github.com/fiberdb/fiberdb/internal/value"
)

// handle is the contract every concrete index kind satisfies; Manager
// dispatches through it as a sum type over hashIndex/rangeIndex/textIndex.
type handle interface {
	insert(entityID string, v value.Value)
	removeEntity(entityID string)
	lookup(cond Condition) (ids map[string]struct{}, ok bool)
	size() int
}

func newHandle(def Definition) handle {
	switch def.Kind {
	case KindRange:
		return newRangeIndex()
	case KindText:
		return newTextIndex(def.Options.IsCaseSensitive)
	default:
		return newHashIndex()
	}
}

func unionSets(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}

func intersectSets(sets ...map[string]struct{}) map[string]struct{} {
	if len(sets) == 0 {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(sets[0]))
	for id := range sets[0] {
		out[id] = struct{}{}
	}
	for _, s := range sets[1:] {
		for id := range out {
			if _, ok := s[id]; !ok {
				delete(out, id)
			}
		}
	}
	return out
}

// ---- hash index ----------------------------------------------------------

// hashIndex supports eq/ne/in over an exact-value posting list.
type hashIndex struct {
	postings map[string]map[string]struct{} // value key -> entity ids
	byEntity map[string][]string            // entity id -> value keys it contributed
}

func newHashIndex() *hashIndex {
	return &hashIndex{postings: make(map[string]map[string]struct{}), byEntity: make(map[string][]string)}
}

func (h *hashIndex) insert(entityID string, v value.Value) {
	key := valueKey(v)
	if h.postings[key] == nil {
		h.postings[key] = make(map[string]struct{})
	}
	h.postings[key][entityID] = struct{}{}
	h.byEntity[entityID] = append(h.byEntity[entityID], key)
}

func (h *hashIndex) removeEntity(entityID string) {
	for _, key := range h.byEntity[entityID] {
		if set, ok := h.postings[key]; ok {
			delete(set, entityID)
			if len(set) == 0 {
				delete(h.postings, key)
			}
		}
	}
	delete(h.byEntity, entityID)
}

func (h *hashIndex) lookup(cond Condition) (map[string]struct{}, bool) {
	switch cond.Op {
	case OpEq:
		return cloneSet(h.postings[valueKey(cond.Value)]), true
	case OpNe:
		skip := valueKey(cond.Value)
		var sets []map[string]struct{}
		for key, set := range h.postings {
			if key != skip {
				sets = append(sets, set)
			}
		}
		return unionSets(sets...), true
	case OpIn:
		items, ok := cond.Value.AsArray()
		if !ok {
			return map[string]struct{}{}, true
		}
		var sets []map[string]struct{}
		for _, item := range items {
			sets = append(sets, h.postings[valueKey(item)])
		}
		return unionSets(sets...), true
	default:
		return nil, false
	}
}

func (h *hashIndex) size() int { return len(h.byEntity) }

func cloneSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out
}

// ---- range index ----------------------------------------------------------

type rangeEntry struct {
	key value.Value
	ids map[string]struct{}
}

// rangeIndex supports eq/gt/lt/ne over an ordered value sequence,
// maintained as a slice kept sorted by insertion (sort.Search locates
// the insertion point on every write).
type rangeIndex struct {
	entries  []*rangeEntry
	byEntity map[string][]*rangeEntry
}

func newRangeIndex() *rangeIndex {
	return &rangeIndex{byEntity: make(map[string][]*rangeEntry)}
}

func (r *rangeIndex) find(v value.Value) (int, bool) {
	i := sort.Search(len(r.entries), func(i int) bool {
		return !value.Less(r.entries[i].key, v)
	})
	if i < len(r.entries) && value.Equal(r.entries[i].key, v) {
		return i, true
	}
	return i, false
}

func (r *rangeIndex) insert(entityID string, v value.Value) {
	idx, found := r.find(v)
	var ent *rangeEntry
	if found {
		ent = r.entries[idx]
	} else {
		ent = &rangeEntry{key: v, ids: make(map[string]struct{})}
		r.entries = append(r.entries, nil)
		copy(r.entries[idx+1:], r.entries[idx:])
		r.entries[idx] = ent
	}
	ent.ids[entityID] = struct{}{}
	r.byEntity[entityID] = append(r.byEntity[entityID], ent)
}

func (r *rangeIndex) removeEntity(entityID string) {
	for _, ent := range r.byEntity[entityID] {
		delete(ent.ids, entityID)
	}
	delete(r.byEntity, entityID)
	// Compact out any entries left with no ids.
	kept := r.entries[:0]
	for _, ent := range r.entries {
		if len(ent.ids) > 0 {
			kept = append(kept, ent)
		}
	}
	r.entries = kept
}

func (r *rangeIndex) lookup(cond Condition) (map[string]struct{}, bool) {
	switch cond.Op {
	case OpEq:
		if idx, found := r.find(cond.Value); found {
			return cloneSet(r.entries[idx].ids), true
		}
		return map[string]struct{}{}, true
	case OpNe:
		idx, found := r.find(cond.Value)
		var sets []map[string]struct{}
		for i, ent := range r.entries {
			if found && i == idx {
				continue
			}
			sets = append(sets, ent.ids)
		}
		return unionSets(sets...), true
	case OpGt:
		idx, found := r.find(cond.Value)
		start := idx
		if found {
			start = idx + 1
		}
		var sets []map[string]struct{}
		for _, ent := range r.entries[start:] {
			sets = append(sets, ent.ids)
		}
		return unionSets(sets...), true
	case OpLt:
		idx, _ := r.find(cond.Value)
		var sets []map[string]struct{}
		for _, ent := range r.entries[:idx] {
			sets = append(sets, ent.ids)
		}
		return unionSets(sets...), true
	default:
		return nil, false
	}
}

func (r *rangeIndex) size() int { return len(r.byEntity) }

// ---- text index ----------------------------------------------------------

// textIndex is a tokenized inverted index supporting "contains".
type textIndex struct {
	caseSensitive bool
	postings      map[string]map[string]struct{} // token -> entity ids
	byEntity      map[string][]string            // entity id -> tokens contributed
}

func newTextIndex(caseSensitive bool) *textIndex {
	return &textIndex{
		caseSensitive: caseSensitive,
		postings:      make(map[string]map[string]struct{}),
		byEntity:      make(map[string][]string),
	}
}

func (t *textIndex) insert(entityID string, v value.Value) {
	s, ok := v.AsString()
	if !ok {
		return
	}
	for _, tok := range Tokenize(Sanitize(s), t.caseSensitive) {
		if t.postings[tok] == nil {
			t.postings[tok] = make(map[string]struct{})
		}
		t.postings[tok][entityID] = struct{}{}
		t.byEntity[entityID] = append(t.byEntity[entityID], tok)
	}
}

func (t *textIndex) removeEntity(entityID string) {
	for _, tok := range t.byEntity[entityID] {
		if set, ok := t.postings[tok]; ok {
			delete(set, entityID)
			if len(set) == 0 {
				delete(t.postings, tok)
			}
		}
	}
	delete(t.byEntity, entityID)
}

func (t *textIndex) lookup(cond Condition) (map[string]struct{}, bool) {
	if cond.Op != OpContains {
		return nil, false
	}
	needle, ok := cond.Value.AsString()
	if !ok {
		return map[string]struct{}{}, true
	}
	tokens := Tokenize(Sanitize(needle), t.caseSensitive)
	if len(tokens) == 0 {
		return map[string]struct{}{}, true
	}
	// A posting token matches when it contains the needle token, so the
	// candidate set stays a superset of substring semantics; the query
	// engine re-checks the full predicate against the loaded entities.
	var sets []map[string]struct{}
	for _, tok := range tokens {
		var matched []map[string]struct{}
		for posted, set := range t.postings {
			if strings.Contains(posted, tok) {
				matched = append(matched, set)
			}
		}
		sets = append(sets, unionSets(matched...))
	}
	return intersectSets(sets...), true
}

func (t *textIndex) size() int { return len(t.byEntity) }

// valueKey canonicalizes a Value into a string suitable as a hash-index
// map key, folding kind into the key so "1" (string) and 1 (number) never
// collide.
func valueKey(v value.Value) string {
	return v.Kind().String() + ":" + v.String()
}
