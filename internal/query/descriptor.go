package query

import (
	"encoding/json"
	"fmt"

	"github.com/fiberdb/fiberdb/internal/index"
	"github.com/fiberdb/fiberdb/internal/value"
)

// Cond is a query predicate: either a bare literal (implicit eq) or an
// object of the form {"op": value}.
type Cond struct {
	Op    index.Op
	Value value.Value
}

var knownOps = map[string]index.Op{
	"eq":       index.OpEq,
	"ne":       index.OpNe,
	"gt":       index.OpGt,
	"lt":       index.OpLt,
	"contains": index.OpContains,
	"in":       index.OpIn,
}

// UnmarshalJSON decodes either a bare literal or a single-key operator
// object into a Cond.
func (c *Cond) UnmarshalJSON(data []byte) error {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &asMap); err == nil && len(asMap) == 1 {
		for k, raw := range asMap {
			if op, ok := knownOps[k]; ok {
				v, err := value.FromJSON(raw)
				if err != nil {
					return fmt.Errorf("%w: condition value: %v", ErrInvalidQuery, err)
				}
				c.Op, c.Value = op, v
				return nil
			}
		}
	}

	v, err := value.FromJSON(data)
	if err != nil {
		return fmt.Errorf("%w: condition: %v", ErrInvalidQuery, err)
	}
	c.Op, c.Value = index.OpEq, v
	return nil
}

// MarshalJSON renders the same form UnmarshalJSON accepts: a bare
// literal for eq, an {"op": value} object otherwise. Without this the
// unexported fields would serialize as "{}" and every descriptor with
// the same field names would collide on one query-cache key.
func (c Cond) MarshalJSON() ([]byte, error) {
	if c.Op == "" || c.Op == index.OpEq {
		return json.Marshal(c.Value)
	}
	return json.Marshal(map[string]value.Value{string(c.Op): c.Value})
}

// ToCondition adapts a Cond into an index.Condition for the index manager.
func (c Cond) ToCondition() index.Condition {
	return index.Condition{Op: c.Op, Value: c.Value}
}

// Descriptor is a query request.
type Descriptor struct {
	Primary string          `json:"primary"`
	ID      *string         `json:"id,omitempty"`
	Filter  map[string]Cond `json:"filter,omitempty"`
	Where   map[string]Cond `json:"where,omitempty"`
	Include []string        `json:"include,omitempty"`
	Limit   *int            `json:"limit,omitempty"`
	Offset  *int            `json:"offset,omitempty"`

	SkipCache                 bool   `json:"skipCache,omitempty"`
	SkipTTL                   bool   `json:"skipTTL,omitempty"`
	UseParallel               bool   `json:"useParallel,omitempty"`
	UseIndexes                bool   `json:"useIndexes,omitempty"`
	IncludePerformanceMetrics bool   `json:"includePerformanceMetrics,omitempty"`
	DecryptionKey             string `json:"decryptionKey,omitempty"`
}

// canonicalKey renders the descriptor's JSON form for use as a
// query-result cache key. encoding/json sorts map keys, so identical
// descriptors always serialize identically.
func (d Descriptor) canonicalKey() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func validateOp(op index.Op) bool {
	for _, known := range knownOps {
		if known == op {
			return true
		}
	}
	return false
}
