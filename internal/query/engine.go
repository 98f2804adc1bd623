// Package query implements FiberDB's query engine: descriptor-driven
// planning, candidate selection via the index manager, bounded parallel
// entity loading, predicate evaluation, projection, and result-cache
// publication.
package query

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/fiberdb/fiberdb/internal/cache"
	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/index"
	"github.com/fiberdb/fiberdb/internal/logging"
	"github.com/fiberdb/fiberdb/internal/value"
)

// Metrics records per-phase timings for includePerformanceMetrics.
type Metrics struct {
	QueryCacheHit   bool          `json:"queryCacheHit"`
	IndexUsed       string        `json:"indexUsed,omitempty"`
	CandidateCount  int           `json:"candidateCount"`
	CacheLookup     time.Duration `json:"cacheLookupNanos"`
	CandidateSelect time.Duration `json:"candidateSelectNanos"`
	Load            time.Duration `json:"loadNanos"`
	Predicate       time.Duration `json:"predicateNanos"`
	Total           time.Duration `json:"totalNanos"`
}

// Result is what Execute returns.
type Result struct {
	Rows    []map[string]any
	Metrics *Metrics
}

// Engine executes query descriptors against a store, cache tier, and
// index manager. One Engine is owned per database instance; there is
// no package-level singleton.
type Engine struct {
	store     *entity.Store
	caches    *cache.Tier
	indexes   *index.Manager
	decryptor Decryptor
	log       *logging.Logger

	sem     chan struct{}
	timeout time.Duration
	ttlDays int
}

// New constructs a query Engine. maxConcurrent bounds simultaneous
// Execute calls; timeout is
// the per-query deadline (FIBERDB_QUERY_TIMEOUT); ttlDays is the age
// threshold TTL filtering drops entities past, unless skipTTL is set.
func New(store *entity.Store, caches *cache.Tier, indexes *index.Manager, decryptor Decryptor, maxConcurrent int, timeout time.Duration, ttlDays int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	if decryptor == nil {
		decryptor = ScryptDecryptor{}
	}
	return &Engine{
		store:     store,
		caches:    caches,
		indexes:   indexes,
		decryptor: decryptor,
		log:       logging.New("query"),
		sem:       make(chan struct{}, maxConcurrent),
		timeout:   timeout,
		ttlDays:   ttlDays,
	}
}

// Execute runs desc to completion and returns its projected, paged rows.
func (e *Engine) Execute(ctx context.Context, desc Descriptor) (Result, error) {
	if desc.Primary == "" {
		return Result{}, fmt.Errorf("%w: primary entity type is required", ErrInvalidQuery)
	}
	if err := e.validateConditions(desc); err != nil {
		return Result{}, err
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: no capacity available", ErrCapacityExceeded)
	}

	deadline := e.timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	metrics := &Metrics{}

	// Phase 1: cache check.
	phaseStart := time.Now()
	if !desc.SkipCache {
		key, err := desc.canonicalKey()
		if err == nil {
			if rows, ok := e.caches.Queries.Get(key); ok {
				metrics.QueryCacheHit = true
				metrics.CacheLookup = time.Since(phaseStart)
				metrics.Total = time.Since(start)
				return Result{Rows: rows, Metrics: metrics}, nil
			}
		}
	}
	metrics.CacheLookup = time.Since(phaseStart)

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	// Phase 2: candidate selection.
	phaseStart = time.Now()
	candidates, indexUsed, err := e.selectCandidates(desc)
	if err != nil {
		return Result{}, err
	}
	metrics.CandidateSelect = time.Since(phaseStart)
	metrics.CandidateCount = len(candidates)
	metrics.IndexUsed = indexUsed

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	// Phase 3: load.
	phaseStart = time.Now()
	entities, err := e.loadCandidates(ctx, desc.Primary, candidates, desc.UseParallel)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	metrics.Load = time.Since(phaseStart)

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	// Phase 4: TTL filter.
	if !desc.SkipTTL {
		entities = e.filterTTL(entities)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	// Phase 5: predicate evaluation.
	phaseStart = time.Now()
	matched := make([]*entity.Entity, 0, len(entities))
	for _, e2 := range entities {
		if matchesPredicates(e2, desc) {
			matched = append(matched, e2)
		}
	}
	metrics.Predicate = time.Since(phaseStart)

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	// Phase 6: projection.
	rows := make([]map[string]any, 0, len(matched))
	for _, e2 := range matched {
		rows = append(rows, e.project(e2, desc))
	}

	// Phase 7: paging.
	rows = page(rows, desc.Offset, desc.Limit)

	// Phase 8: publish.
	metrics.Total = time.Since(start)
	if !desc.SkipCache {
		if key, err := desc.canonicalKey(); err == nil {
			e.caches.Queries.Set(key, desc.Primary, rows)
		}
	}
	if desc.IncludePerformanceMetrics && len(rows) > 0 {
		rows[0]["__metrics"] = metrics
	}

	return Result{Rows: rows, Metrics: metrics}, nil
}

func (e *Engine) validateConditions(desc Descriptor) error {
	for _, c := range desc.Filter {
		if !validateOp(c.Op) {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Op)
		}
	}
	for _, c := range desc.Where {
		if !validateOp(c.Op) {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Op)
		}
	}
	return nil
}

// selectCandidates implements phase 2.
func (e *Engine) selectCandidates(desc Descriptor) ([]string, string, error) {
	if desc.ID != nil {
		return []string{*desc.ID}, "", nil
	}

	if desc.UseIndexes && e.indexes != nil {
		ids, indexUsed, ok := e.candidatesFromIndexes(desc)
		if ok {
			return ids, indexUsed, nil
		}
	}

	all, err := e.store.ListByType(desc.Primary)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	ids := make([]string, len(all))
	for i, e2 := range all {
		ids[i] = e2.EntityID
	}
	sort.Strings(ids)
	return ids, "", nil
}

// candidatesFromIndexes AND-intersects every filter/where clause that an
// index covers. ok is false when no clause could be served by an index,
// signalling a fallback to a full type scan.
func (e *Engine) candidatesFromIndexes(desc Descriptor) ([]string, string, bool) {
	var sets []map[string]struct{}
	var usedNames []string

	for field, cond := range desc.Filter {
		res, ok := e.indexes.FindAndQuery(desc.Primary, field, cond.ToCondition(), "")
		if !ok {
			continue
		}
		sets = append(sets, res.MatchedIDs)
		usedNames = append(usedNames, res.IndexName)
	}
	for path, cond := range desc.Where {
		attached, field, ok := splitWherePath(path)
		if !ok {
			continue
		}
		res, ok := e.indexes.FindAndQuery(desc.Primary, field, cond.ToCondition(), attached)
		if !ok {
			continue
		}
		sets = append(sets, res.MatchedIDs)
		usedNames = append(usedNames, res.IndexName)
	}

	if len(sets) == 0 {
		return nil, "", false
	}

	merged := sets[0]
	for _, s := range sets[1:] {
		merged = intersect(merged, s)
	}
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, strings.Join(usedNames, ","), true
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func splitWherePath(path string) (attached, field string, ok bool) {
	i := strings.IndexByte(path, '.')
	if i <= 0 || i == len(path)-1 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}

// loadCandidates implements phase 3: document cache -> store, optionally
// fanned out with bounded concurrency while preserving candidate order.
func (e *Engine) loadCandidates(ctx context.Context, entityType string, ids []string, parallel bool) ([]*entity.Entity, error) {
	results := make([]*entity.Entity, len(ids))

	load := func(i int) error {
		key := entity.Key{Type: entityType, ID: ids[i]}
		if cached, ok := e.caches.Documents.Get(key); ok {
			results[i] = cached
			return nil
		}
		loaded, err := e.store.Get(key)
		if err != nil {
			return err
		}
		if loaded != nil {
			e.caches.Documents.Set(key, loaded)
		}
		results[i] = loaded
		return nil
	}

	if !parallel || len(ids) <= 1 {
		for i := range ids {
			if err := load(i); err != nil {
				return nil, err
			}
		}
	} else {
		workers := runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
		sem := make(chan struct{}, workers)
		errs := make(chan error, len(ids))
		for i := range ids {
			i := i
			sem <- struct{}{}
			go func() {
				defer func() { <-sem }()
				errs <- load(i)
			}()
		}
		for range ids {
			if err := <-errs; err != nil {
				return nil, err
			}
		}
	}

	out := make([]*entity.Entity, 0, len(ids))
	for _, e2 := range results {
		if e2 != nil {
			out = append(out, e2)
		}
	}
	return out, nil
}

// filterTTL implements phase 4. Entities without a
// created_at/createdAt attribute always pass.
func (e *Engine) filterTTL(entities []*entity.Entity) []*entity.Entity {
	if e.ttlDays <= 0 {
		return entities
	}
	cutoff := time.Now().AddDate(0, 0, -e.ttlDays)
	out := entities[:0]
	for _, ent := range entities {
		created, ok := createdAt(ent)
		if !ok || !created.Before(cutoff) {
			out = append(out, ent)
		}
	}
	return out
}

func createdAt(e *entity.Entity) (time.Time, bool) {
	for _, key := range []string{"created_at", "createdAt"} {
		if v, ok := e.Attributes[key]; ok {
			if s, ok := v.AsString(); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

// matchesPredicates implements phase 5.
func matchesPredicates(e *entity.Entity, desc Descriptor) bool {
	for field, cond := range desc.Filter {
		v, ok := e.Attributes[field]
		if !ok {
			v = value.Null()
		}
		if !evaluateCond(v, cond) {
			return false
		}
	}
	for path, cond := range desc.Where {
		attached, field, ok := splitWherePath(path)
		if !ok {
			return false
		}
		if !anyDocMatches(e.Documents[attached], field, cond) {
			return false
		}
	}
	return true
}

func anyDocMatches(docs []map[string]value.Value, field string, cond Cond) bool {
	for _, doc := range docs {
		v, ok := doc[field]
		if !ok {
			v = value.Null()
		}
		if evaluateCond(v, cond) {
			return true
		}
	}
	return false
}

// evaluateCond implements the operator semantics: contains is
// substring-on-strings, in requires an array RHS, and cross-type
// comparisons are false rather than an error.
func evaluateCond(v value.Value, cond Cond) bool {
	switch cond.Op {
	case index.OpEq:
		return value.Equal(v, cond.Value)
	case index.OpNe:
		return !value.Equal(v, cond.Value)
	case index.OpGt:
		return value.Less(cond.Value, v)
	case index.OpLt:
		return value.Less(v, cond.Value)
	case index.OpContains:
		return value.Contains(v, cond.Value)
	case index.OpIn:
		return value.In(v, cond.Value)
	default:
		return false
	}
}

// project implements phase 6.
func (e *Engine) project(ent *entity.Entity, desc Descriptor) map[string]any {
	whereByAttached := make(map[string][]struct {
		field string
		cond  Cond
	})
	for path, cond := range desc.Where {
		attached, field, ok := splitWherePath(path)
		if !ok {
			continue
		}
		whereByAttached[attached] = append(whereByAttached[attached], struct {
			field string
			cond  Cond
		}{field, cond})
	}

	attachedRows := func(name string) []map[string]any {
		docs := ent.Documents[name]
		conds := whereByAttached[name]
		out := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			if docMatchesAll(doc, conds) {
				out = append(out, docToAny(doc))
			}
		}
		return out
	}

	secureField := func(row map[string]any, raw value.Value) {
		if desc.DecryptionKey == "" {
			row["__secure"] = raw.ToAny()
			return
		}
		s, ok := raw.AsString()
		if !ok {
			row["__secure"] = raw.ToAny()
			return
		}
		plain, err := e.decryptor.Decrypt([]byte(s), desc.DecryptionKey)
		if err != nil {
			e.log.Warnf("secure field decryption failed for %s: %v", ent.Key(), err)
			row["__secure"] = raw.ToAny()
			return
		}
		row["__secure"] = string(plain)
	}

	if len(desc.Include) == 0 || (len(desc.Include) == 1 && desc.Include[0] == "*") {
		row := make(map[string]any, len(ent.Attributes)+len(ent.Documents)+1)
		for k, v := range ent.Attributes {
			if k == "__secure" {
				secureField(row, v)
				continue
			}
			row[k] = v.ToAny()
		}
		for name := range ent.Documents {
			row[name] = attachedRows(name)
		}
		row["id"] = ent.EntityID
		return row
	}

	row := make(map[string]any, len(desc.Include))
	for _, field := range desc.Include {
		switch {
		case field == "id":
			row["id"] = ent.EntityID
		case field == "__secure":
			if v, ok := ent.Attributes["__secure"]; ok {
				secureField(row, v)
			}
		default:
			if _, ok := ent.Documents[field]; ok {
				row[field] = attachedRows(field)
			} else if v, ok := ent.Attributes[field]; ok {
				row[field] = v.ToAny()
			}
		}
	}
	return row
}

func docMatchesAll(doc map[string]value.Value, conds []struct {
	field string
	cond  Cond
}) bool {
	for _, c := range conds {
		v, ok := doc[c.field]
		if !ok {
			v = value.Null()
		}
		if !evaluateCond(v, c.cond) {
			return false
		}
	}
	return true
}

func docToAny(doc map[string]value.Value) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v.ToAny()
	}
	return out
}

// page implements phase 7.
func page(rows []map[string]any, offset, limit *int) []map[string]any {
	if offset != nil {
		o := *offset
		if o < 0 {
			o = 0
		}
		if o >= len(rows) {
			return []map[string]any{}
		}
		rows = rows[o:]
	}
	if limit != nil {
		l := *limit
		if l < 0 {
			l = 0
		}
		if l < len(rows) {
			rows = rows[:l]
		}
	}
	return rows
}
