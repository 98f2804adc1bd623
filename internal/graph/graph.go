// Package graph implements FiberDB's traversal layer: an inverted
// target->sources edge index maintained incrementally alongside the
// entity store, BFS subgraph queries, and shortest-path search.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/value"
)

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirectionOut  Direction = "OUT"
	DirectionIn   Direction = "IN"
	DirectionBoth Direction = "BOTH"
)

// ReturnType selects what query_graph returns.
type ReturnType string

const (
	ReturnNodes ReturnType = "NODES"
	ReturnEdges ReturnType = "EDGES"
	ReturnPaths ReturnType = "PATHS"
)

// EdgeFilter restricts which edges a traversal crosses.
type EdgeFilter struct {
	Properties map[string]value.Value
}

// NodeFilter restricts which target entities a traversal visits.
type NodeFilter struct {
	Type       string
	Attributes map[string]value.Value
}

// Traversal parameterizes a query_graph call.
type Traversal struct {
	Direction  Direction
	MaxDepth   int
	EdgeTypes  []string
	EdgeFilter *EdgeFilter
	NodeFilter *NodeFilter
}

// EdgeRef identifies a traversed edge by its endpoints and type.
type EdgeRef struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Path is a sequence of nodes connected by edges, returned by find_path
// and by query_graph with returnType PATHS.
type Path struct {
	Nodes []string  `json:"nodes"`
	Edges []EdgeRef `json:"edges"`
}

// Result is what a query_graph call returns, shaped by ReturnType.
type Result struct {
	Nodes []string  `json:"nodes,omitempty"`
	Edges []EdgeRef `json:"edges,omitempty"`
	Paths []Path    `json:"paths,omitempty"`
}

// Index maintains the inverted target->sources edge map a BOTH/IN
// traversal needs, since entity.Entity only stores its own outgoing
// edges. Rebuilt on startup from a full scan, then kept current
// incrementally on every AddEdge/RemoveEdge apply.
type Index struct {
	mu sync.RWMutex
	// incoming[target] holds every (source, edge) pair whose edge targets it.
	incoming map[string][]incomingEdge
}

type incomingEdge struct {
	source string
	edge   entity.Edge
}

// NewIndex returns an empty inverted edge index.
func NewIndex() *Index {
	return &Index{incoming: make(map[string][]incomingEdge)}
}

// Rebuild repopulates the index from a full entity scan (called after
// WAL replay).
func (idx *Index) Rebuild(entities []*entity.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.incoming = make(map[string][]incomingEdge)
	for _, e := range entities {
		source := e.Key().String()
		for _, edge := range e.Edges {
			idx.incoming[edge.Target] = append(idx.incoming[edge.Target], incomingEdge{source: source, edge: edge})
		}
	}
}

// OnAddEdge records a newly added edge in the inverted index.
func (idx *Index) OnAddEdge(source string, edge entity.Edge) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.incoming[edge.Target] = append(idx.incoming[edge.Target], incomingEdge{source: source, edge: edge})
}

// OnRemoveEdge removes a single edge (matched by id) from the inverted
// index.
func (idx *Index) OnRemoveEdge(source string, edgeID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for target, edges := range idx.incoming {
		filtered := edges[:0]
		for _, e := range edges {
			if e.source == source && e.edge.ID == edgeID {
				continue
			}
			filtered = append(filtered, e)
		}
		idx.incoming[target] = filtered
	}
}

// OnEntityWrite replaces every inverted entry sourced at source with the
// entity's current outgoing edges, covering saves that carry edges
// inline rather than going through AddEdge.
func (idx *Index) OnEntityWrite(source string, edges []entity.Edge) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeSourceLocked(source)
	for _, edge := range edges {
		idx.incoming[edge.Target] = append(idx.incoming[edge.Target], incomingEdge{source: source, edge: edge})
	}
}

// OnEntityDelete drops every inverted entry sourced at a deleted entity.
// Edges pointing AT the deleted entity stay; they are dangling by policy.
func (idx *Index) OnEntityDelete(source string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeSourceLocked(source)
}

func (idx *Index) removeSourceLocked(source string) {
	for target, edges := range idx.incoming {
		filtered := edges[:0]
		for _, e := range edges {
			if e.source == source {
				continue
			}
			filtered = append(filtered, e)
		}
		if len(filtered) == 0 {
			delete(idx.incoming, target)
		} else {
			idx.incoming[target] = filtered
		}
	}
}

// incomingOf returns every (source key, edge) pair targeting key.
func (idx *Index) incomingOf(key string) []incomingEdge {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]incomingEdge(nil), idx.incoming[key]...)
}

// Loader resolves an entity by key, the only store dependency the graph
// layer needs.
type Loader interface {
	Get(key entity.Key) (*entity.Entity, error)
}

// Graph executes query_graph and find_path against the entity store and
// an incrementally maintained inverted edge Index.
type Graph struct {
	store *entity.Store
	index *Index
}

// New returns a Graph backed by store and index.
func New(store *entity.Store, index *Index) *Graph {
	return &Graph{store: store, index: index}
}

type frontierEdge struct {
	from string
	edge entity.Edge
	dir  Direction
}

// predecessor returns the BFS node fe was traversed from: for an OUT
// edge that is fe.from (the edge's owner); for an IN edge the frontier
// was expanded at the edge's target, so the predecessor is edge.Target.
func predecessor(fe frontierEdge) string {
	if fe.dir == DirectionIn {
		return fe.edge.Target
	}
	return fe.from
}

// QueryGraph runs a breadth-first walk from startNodes, visiting each
// reachable node at its shallowest depth only, filtered by
// traversal.EdgeTypes/EdgeFilter/NodeFilter.
func (g *Graph) QueryGraph(startNodes []string, t Traversal, rt ReturnType) (Result, error) {
	if t.MaxDepth < 0 {
		return Result{}, fmt.Errorf("graph: maxDepth must be >= 0")
	}

	visited := make(map[string]int) // key -> depth first visited at
	order := make([]string, 0, len(startNodes))
	type queued struct {
		key   string
		depth int
	}
	queue := make([]queued, 0, len(startNodes))
	parent := make(map[string]frontierEdge)

	for _, s := range startNodes {
		if _, ok := visited[s]; !ok {
			visited[s] = 0
			order = append(order, s)
			queue = append(queue, queued{key: s, depth: 0})
		}
	}

	var traversedEdges []EdgeRef

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= t.MaxDepth {
			continue
		}

		next, err := g.frontier(cur.key, t.Direction)
		if err != nil {
			return Result{}, err
		}
		for _, fe := range next {
			if !edgeAllowed(fe.edge, t) {
				continue
			}
			targetKey := otherEnd(cur.key, fe)
			ok, err := g.nodeAllowed(targetKey, t.NodeFilter)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				continue
			}
			traversedEdges = append(traversedEdges, edgeRefFor(cur.key, fe))
			if _, seen := visited[targetKey]; seen {
				continue
			}
			visited[targetKey] = cur.depth + 1
			parent[targetKey] = fe
			order = append(order, targetKey)
			queue = append(queue, queued{key: targetKey, depth: cur.depth + 1})
		}
	}

	switch rt {
	case ReturnEdges:
		return Result{Edges: dedupeEdges(traversedEdges)}, nil
	case ReturnPaths:
		paths := make([]Path, 0, len(order))
		for _, key := range order {
			paths = append(paths, reconstructPath(key, parent))
		}
		return Result{Paths: paths}, nil
	default:
		sort.Strings(order)
		return Result{Nodes: order}, nil
	}
}

// frontier returns every edge reachable from key under direction,
// combining outgoing (from the entity itself) and incoming (from the
// inverted index) as required.
func (g *Graph) frontier(key string, dir Direction) ([]frontierEdge, error) {
	var out []frontierEdge

	if dir == DirectionOut || dir == DirectionBoth {
		k, err := parseKey(key)
		if err != nil {
			return nil, err
		}
		e, err := g.store.Get(k)
		if err != nil {
			return nil, err
		}
		if e != nil {
			for _, edge := range e.Edges {
				out = append(out, frontierEdge{from: key, edge: edge, dir: DirectionOut})
			}
		}
	}

	if dir == DirectionIn || dir == DirectionBoth {
		for _, inc := range g.index.incomingOf(key) {
			out = append(out, frontierEdge{from: inc.source, edge: inc.edge, dir: DirectionIn})
		}
	}

	return out, nil
}

func otherEnd(from string, fe frontierEdge) string {
	if fe.dir == DirectionIn {
		return fe.from
	}
	return fe.edge.Target
}

func edgeRefFor(cur string, fe frontierEdge) EdgeRef {
	source, target := cur, fe.edge.Target
	if fe.dir == DirectionIn {
		source, target = fe.from, cur
	}
	return EdgeRef{ID: fe.edge.ID, Type: fe.edge.Type, Source: source, Target: target}
}

func edgeAllowed(edge entity.Edge, t Traversal) bool {
	if len(t.EdgeTypes) > 0 {
		found := false
		for _, et := range t.EdgeTypes {
			if et == edge.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if t.EdgeFilter != nil {
		for k, want := range t.EdgeFilter.Properties {
			got, ok := edge.Properties[k]
			if !ok || !value.Equal(got, want) {
				return false
			}
		}
	}
	return true
}

func (g *Graph) nodeAllowed(key string, filter *NodeFilter) (bool, error) {
	if filter == nil {
		return true, nil
	}
	k, err := parseKey(key)
	if err != nil {
		return false, err
	}
	if filter.Type != "" && k.Type != filter.Type {
		return false, nil
	}
	if len(filter.Attributes) == 0 {
		return true, nil
	}
	e, err := g.store.Get(k)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	for field, want := range filter.Attributes {
		got, ok := e.Attributes[field]
		if !ok || !value.Equal(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func dedupeEdges(edges []EdgeRef) []EdgeRef {
	seen := make(map[string]struct{}, len(edges))
	out := make([]EdgeRef, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func reconstructPath(key string, parent map[string]frontierEdge) Path {
	var nodes []string
	var edges []EdgeRef
	cur := key
	for {
		nodes = append([]string{cur}, nodes...)
		fe, ok := parent[cur]
		if !ok {
			break
		}
		pred := predecessor(fe)
		edges = append([]EdgeRef{edgeRefFor(pred, fe)}, edges...)
		cur = pred
	}
	return Path{Nodes: nodes, Edges: edges}
}

func parseKey(key string) (entity.Key, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			if i == 0 || i == len(key)-1 {
				break
			}
			return entity.Key{Type: key[:i], ID: key[i+1:]}, nil
		}
	}
	return entity.Key{}, fmt.Errorf("graph: malformed node key %q", key)
}

// FindPath returns every shortest path from->to of length <= maxDepth
// (empty if none exists within that bound). Enumerating longer paths
// is out of scope.
func (g *Graph) FindPath(from, to string, maxDepth int) ([]Path, error) {
	if from == to {
		return []Path{{Nodes: []string{from}}}, nil
	}

	type queued struct {
		key   string
		depth int
	}
	visited := map[string]int{from: 0}
	parents := map[string][]frontierEdge{}
	queue := []queued{{key: from, depth: 0}}
	found := -1

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if found >= 0 && cur.depth > found {
			break
		}
		if cur.depth >= maxDepth {
			continue
		}

		next, err := g.frontier(cur.key, DirectionBoth)
		if err != nil {
			return nil, err
		}
		for _, fe := range next {
			targetKey := otherEnd(cur.key, fe)
			depth, seen := visited[targetKey]
			if seen && depth < cur.depth+1 {
				continue
			}
			if !seen {
				visited[targetKey] = cur.depth + 1
				queue = append(queue, queued{key: targetKey, depth: cur.depth + 1})
			}
			parents[targetKey] = append(parents[targetKey], fe)
			if targetKey == to && found < 0 {
				found = cur.depth + 1
			}
		}
	}

	if found < 0 {
		return nil, nil
	}

	var paths []Path
	var walk func(key string, nodes []string, edges []EdgeRef, depth int)
	walk = func(key string, nodes []string, edges []EdgeRef, depth int) {
		nodes = append([]string{key}, nodes...)
		if key == from {
			if depth == 0 {
				paths = append(paths, Path{Nodes: append([]string(nil), nodes...), Edges: append([]EdgeRef(nil), edges...)})
			}
			return
		}
		for _, fe := range parents[key] {
			pred := predecessor(fe)
			if contains(nodes, pred) {
				continue
			}
			walk(pred, nodes, append([]EdgeRef{edgeRefFor(pred, fe)}, edges...), depth-1)
		}
	}
	walk(to, nil, nil, found)

	return paths, nil
}

func contains(items []string, item string) bool {
	for _, v := range items {
		if v == item {
			return true
		}
	}
	return false
}
