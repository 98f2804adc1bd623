// Package index implements FiberDB's hash/range/text index manager:
// build/maintain indexes over primary or attached-document fields,
// answer condition lookups, and report usage statistics.
//
// The three kinds share a common lookup contract; the handle interface
// dispatches over the concrete hash/range/text types.
package index

import "github.com/fiberdb/fiberdb/internal/value"

// Kind identifies which index implementation backs a Definition.
type Kind string

const (
	KindHash  Kind = "hash"
	KindRange Kind = "range"
	KindText  Kind = "text"
)

// Op identifies a query-engine predicate operator understood by the index
// manager.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpContains Op = "contains"
	OpIn       Op = "in"
)

// Condition is an operator paired with its comparison value.
type Condition struct {
	Op    Op
	Value value.Value
}

// Options configures index construction.
type Options struct {
	IsUnique        bool
	IgnoreNull      bool
	IsCaseSensitive bool
}

// Definition describes one registered index.
type Definition struct {
	ID string
	// Name is a human-friendly label; defaults to a derived form if empty.
	Name string
	// EntityType this index covers.
	EntityType string
	// AttachedType is the document-collection name this index covers, or
	// empty when the index is over a primary attribute.
	AttachedType string
	// Field is the attribute name (primary) or per-document field name
	// (attached) this index is keyed on.
	Field string
	Kind    Kind
	Options Options
}

// matchesField reports whether this definition indexes the given
// (entityType, attachedType, field) triple — used to route writes to the
// indexes that must be updated.
func (d Definition) matchesField(entityType, attachedType, field string) bool {
	return d.EntityType == entityType && d.AttachedType == attachedType && d.Field == field
}
