// Package migrate implements the one-shot legacy migrator: it walks
// the old anchors/attached file layout and writes equivalent entities
// through the WAL via internal/fiberdb.
//
// It walks a source directory, decodes each record and hands it to the
// store one at a time. Records that fail to read or decode are skipped
// and listed in Result.Skipped; a failed write aborts the run.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/fiberdb"
	"github.com/fiberdb/fiberdb/internal/logging"
	"github.com/fiberdb/fiberdb/internal/value"
)

var log = logging.New("migrate")

// Result tallies what a migration run did.
type Result struct {
	EntitiesWritten int
	EdgesInferred   int
	Skipped         []string
}

// Run walks <legacyRoot>/anchors/<type>/<id>.json and
// <legacyRoot>/attached/<id>/<attached>.json,
// builds an Entity per anchor file (attributes <- anchor JSON, documents
// <- attached files, edges <- attribute keys ending in "Id"/"Ids" that
// resolve to a live <type> directory under anchors/), and writes each
// through db so every migrated record is WAL-durable.
func Run(db *fiberdb.DB, legacyRoot string) (Result, error) {
	anchorsDir := filepath.Join(legacyRoot, "anchors")
	attachedDir := filepath.Join(legacyRoot, "attached")

	types, err := listDirs(anchorsDir)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: list anchor types: %w", err)
	}
	liveTypes := make(map[string]bool, len(types))
	for _, t := range types {
		liveTypes[t] = true
	}

	var result Result

	for _, entityType := range types {
		typeDir := filepath.Join(anchorsDir, entityType)
		files, err := os.ReadDir(typeDir)
		if err != nil {
			return result, fmt.Errorf("migrate: read %s: %w", typeDir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(f.Name(), ".json")
			e, edgeCount, err := buildEntity(anchorsDir, attachedDir, entityType, id, liveTypes)
			if err != nil {
				log.Warnf("skipping %s/%s: %v", entityType, id, err)
				result.Skipped = append(result.Skipped, entityType+"/"+id)
				continue
			}
			// Edges go through AddRelationship so each gets its own
			// ADD_EDGE log entry and edge-index update; saving them
			// inline as well would record every edge twice.
			edges := e.Edges
			e.Edges = nil
			if _, err := db.SaveEntity(e); err != nil {
				return result, fmt.Errorf("migrate: save %s:%s: %w", entityType, id, err)
			}
			for _, edge := range edges {
				tgt := strings.SplitN(edge.Target, ":", 2)
				if _, err := db.AddRelationship(entityType, id, tgt[0], tgt[1], edge.Type, nil); err != nil {
					return result, fmt.Errorf("migrate: add edge %s:%s -> %s: %w", entityType, id, edge.Target, err)
				}
			}
			result.EntitiesWritten++
			result.EdgesInferred += edgeCount
		}
	}

	return result, nil
}

// buildEntity decodes one anchor file plus every matching attached file
// into an Entity, inferring edges from attribute keys ending in "Id"
// (single edge) or "Ids" (one edge per array element) whose value names
// an id under a live anchor type directory.
func buildEntity(anchorsDir, attachedDir, entityType, id string, liveTypes map[string]bool) (*entity.Entity, int, error) {
	anchorPath := filepath.Join(anchorsDir, entityType, id+".json")
	data, err := os.ReadFile(anchorPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read anchor: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode anchor: %w", err)
	}

	attrs := make(map[string]value.Value, len(raw))
	var edges []entity.Edge
	for k, v := range raw {
		attrs[k] = value.FromAny(v)
		for _, target := range inferEdgeTargets(k, v, liveTypes) {
			edges = append(edges, entity.Edge{ID: fmt.Sprintf("%s-%s-%d", id, k, len(edges)), Type: edgeTypeFor(k), Target: target})
		}
	}

	documents, err := loadAttached(attachedDir, id)
	if err != nil {
		return nil, 0, fmt.Errorf("load attached: %w", err)
	}

	e := &entity.Entity{
		EntityType: entityType,
		EntityID:   id,
		Attributes: attrs,
		Documents:  documents,
		Edges:      edges,
	}
	return e, len(edges), e.Validate()
}

// inferEdgeTargets resolves an attribute into zero or more edge targets:
// a single "<type>Id" string value yields one target; a "<type>Ids"
// array of strings yields one target per element. Only keys resolving
// to a live anchor type directory are accepted.
func inferEdgeTargets(key string, v any, liveTypes map[string]bool) []string {
	switch {
	case strings.HasSuffix(key, "Ids"):
		refType := strings.TrimSuffix(key, "Ids")
		if !liveTypes[refType] {
			return nil
		}
		items, ok := v.([]any)
		if !ok {
			return nil
		}
		var out []string
		for _, item := range items {
			if id, ok := item.(string); ok {
				out = append(out, refType+":"+id)
			}
		}
		return out
	case strings.HasSuffix(key, "Id"):
		refType := strings.TrimSuffix(key, "Id")
		if !liveTypes[refType] {
			return nil
		}
		if id, ok := v.(string); ok {
			return []string{refType + ":" + id}
		}
	}
	return nil
}

// edgeTypeFor derives a relation-type label from the attribute key that
// produced the edge, e.g. "managerId" -> "MANAGER", "memberIds" -> "MEMBER".
func edgeTypeFor(key string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(key, "Ids"), "Id")
	return strings.ToUpper(trimmed)
}

func loadAttached(attachedDir, id string) (map[string][]map[string]value.Value, error) {
	docs := make(map[string][]map[string]value.Value)
	dir := filepath.Join(attachedDir, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return docs, nil
		}
		return nil, err
	}
	for _, f := range entries {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decode attached %s: %w", f.Name(), err)
		}
		converted := make([]map[string]value.Value, len(rows))
		for i, row := range rows {
			cv := make(map[string]value.Value, len(row))
			for k, v := range row {
				cv[k] = value.FromAny(v)
			}
			converted[i] = cv
		}
		docs[name] = converted
	}
	return docs, nil
}

func listDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
