// Package badgersnap mirrors compacted WAL snapshots into a
// github.com/dgraph-io/badger/v4 instance, giving FiberDB's
// FIBERDB_ENGINE=custom mode a durable, self-compacting K/V backing
// instead of flat JSON snapshot files.
//
// Keys are namespaced by a single prefix, values are JSON-encoded.
// FiberDB only needs one record kind (an Entity keyed by "type:id"),
// so the prefix scheme here collapses to a single namespace.
package badgersnap

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/fiberdb/fiberdb/internal/entity"
	"github.com/fiberdb/fiberdb/internal/logging"
)

// entityPrefix namespaces every key this store writes.
const entityPrefix = "entity:"

// Store persists FiberDB's compacted entity set in a Badger database.
type Store struct {
	db  *badger.DB
	log *logging.Logger
}

// Open creates or reopens a Badger instance rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgersnap: open %s: %w", dir, err)
	}
	return &Store{db: db, log: logging.New("badgersnap")}, nil
}

// PutAll replaces the stored snapshot with entities: every key under
// entityPrefix is dropped, then every entity is written fresh, all
// within one transaction so a reader never observes a half-written
// snapshot.
func (s *Store) PutAll(entities []*entity.Entity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := dropPrefix(txn, []byte(entityPrefix)); err != nil {
			return err
		}
		for _, e := range entities {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("badgersnap: marshal %s: %w", e.Key(), err)
			}
			key := []byte(entityPrefix + e.Key().String())
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// dropPrefix deletes every key under prefix within the active
// transaction. Badger transactions have a size limit, so very large
// snapshots may need batching; FiberDB's compaction cadence keeps the
// live set well within Badger's default transaction size.
func dropPrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, append([]byte(nil), it.Item().Key()...))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll returns every entity currently stored.
func (s *Store) LoadAll() ([]*entity.Entity, error) {
	var out []*entity.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(entityPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e entity.Entity
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, &e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Close releases the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}
