// Package entity defines FiberDB's core data model: entities, their
// attached document collections, and the edges they carry to other
// entities.
//
// Rather than a flat node/edge graph, each Entity bundles typed
// attributes, named collections of nested documents, and its own
// outgoing edges, so a single WAL entry captures a whole entity mutation.
package entity

import (
	"errors"
	"time"

	"github.com/fiberdb/fiberdb/internal/value"
)

// Common entity-layer errors.
var (
	ErrInvalidID   = errors.New("entity: type and id must be non-empty")
	ErrInvalidEdge = errors.New("entity: edge target must be \"<type>:<id>\"")
)

// Key uniquely identifies an entity by the pair (type, id), canonically
// serialized as "type:id" for use as a map key (snapshots, indexes, the
// inverted edge map).
type Key struct {
	Type string
	ID   string
}

// String renders the key in "type:id" form.
func (k Key) String() string { return k.Type + ":" + k.ID }

// Metadata carries entity bookkeeping: creation/update timestamps, a
// strictly increasing version counter, a schema version, and optional
// free-form tags.
type Metadata struct {
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
	Version       int64     `json:"version"`
	SchemaVersion int       `json:"schemaVersion"`
	Tags          []string  `json:"tags,omitempty"`
}

// Edge is a directed, typed, property-bearing link from one entity to
// another. Target is "<type>:<id>" of the destination entity; the
// destination need not exist — edges may be dangling.
type Edge struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Target     string                 `json:"target"`
	Properties map[string]value.Value `json:"properties,omitempty"`
}

// Entity is FiberDB's unit of storage: a typed, identified record with
// primary attributes, named collections of attached documents, and its
// own outgoing edges.
type Entity struct {
	EntityType string                              `json:"type"`
	EntityID   string                              `json:"id"`
	Attributes map[string]value.Value              `json:"attributes"`
	Documents  map[string][]map[string]value.Value `json:"documents"`
	Edges      []Edge                              `json:"edges"`
	Meta       Metadata                            `json:"metadata"`
}

// Key returns the entity's (type, id) key.
func (e *Entity) Key() Key { return Key{Type: e.EntityType, ID: e.EntityID} }

// Clone returns a deep copy of the entity so callers (caches, readers)
// never observe in-place mutation of the authoritative store's copy.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := &Entity{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Meta:       e.Meta,
	}
	if e.Attributes != nil {
		out.Attributes = make(map[string]value.Value, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	if e.Documents != nil {
		out.Documents = make(map[string][]map[string]value.Value, len(e.Documents))
		for name, docs := range e.Documents {
			cloned := make([]map[string]value.Value, len(docs))
			for i, doc := range docs {
				cd := make(map[string]value.Value, len(doc))
				for k, v := range doc {
					cd[k] = v
				}
				cloned[i] = cd
			}
			out.Documents[name] = cloned
		}
	}
	if e.Edges != nil {
		out.Edges = make([]Edge, len(e.Edges))
		copy(out.Edges, e.Edges)
		for i, edge := range e.Edges {
			if edge.Properties != nil {
				props := make(map[string]value.Value, len(edge.Properties))
				for k, v := range edge.Properties {
					props[k] = v
				}
				out.Edges[i].Properties = props
			}
		}
	}
	if e.Meta.Tags != nil {
		out.Meta.Tags = append([]string(nil), e.Meta.Tags...)
	}
	return out
}

// Validate checks the structural invariants required of a freshly
// constructed entity: non-empty (type, id) and well-formed edge
// targets ("<type>:<id>", presence of the target is not required).
func (e *Entity) Validate() error {
	if e.EntityType == "" || e.EntityID == "" {
		return ErrInvalidID
	}
	for _, edge := range e.Edges {
		if !validTarget(edge.Target) {
			return ErrInvalidEdge
		}
	}
	return nil
}

func validTarget(target string) bool {
	for i := 0; i < len(target); i++ {
		if target[i] == ':' {
			return i > 0 && i < len(target)-1
		}
	}
	return false
}
