package badgerstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/homewatt/homewatt/pkg/store"
)

// DocumentStore implements store.DocumentStore on BadgerDB.
type DocumentStore struct {
	db *badger.DB
}

// Get reads one document.
func (s *DocumentStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := store.ValidateDocumentPath(path); err != nil {
		return store.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, err
	}

	var snap store.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			fields, err := decodeFields(val)
			if err != nil {
				return err
			}
			snap = snapshotAt(path, fields)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return store.Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	return snap, nil
}

// Set writes a document, replacing existing fields.
func (s *DocumentStore) Set(ctx context.Context, path string, fields map[string]any) error {
	if err := store.ValidateDocumentPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", path, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(path), value)
	})
}

// Merge writes fields into a document, preserving unnamed fields.
// Read-modify-write inside a single transaction, so concurrent merges
// on the same document resolve to last writer wins.
func (s *DocumentStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	if err := store.ValidateDocumentPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		merged := make(map[string]any)

		item, err := txn.Get(docKey(path))
		switch err {
		case nil:
			if err := item.Value(func(val []byte) error {
				existing, err := decodeFields(val)
				if err != nil {
					return err
				}
				merged = existing
				return nil
			}); err != nil {
				return err
			}
		case badger.ErrKeyNotFound:
			// Merge creates the document.
		default:
			return err
		}

		for k, v := range fields {
			merged[k] = v
		}
		value, err := encodeFields(merged)
		if err != nil {
			return err
		}
		return txn.Set(docKey(path), value)
	})
}

// Delete removes a document. Sub-collection keys are untouched.
func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	if err := store.ValidateDocumentPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(docKey(path))
	})
}

// ListDocuments returns documents directly inside a collection, ordered
// by ID. Keys below the collection prefix that contain a further slash
// belong to sub-collection documents and are skipped.
func (s *DocumentStore) ListDocuments(ctx context.Context, collection string, opts store.ListOptions) ([]store.Snapshot, error) {
	if err := store.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	trimmed := strings.Trim(collection, "/")
	prefix := []byte(docPrefix + trimmed + "/")
	var results []store.Snapshot

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		var iterCount int
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			iterCount++
			// Check context periodically on large scans.
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			id := string(item.Key()[len(prefix):])
			if strings.Contains(id, "/") {
				continue
			}
			if opts.StartAfter != "" && id <= opts.StartAfter {
				continue
			}

			var fields map[string]any
			if err := item.Value(func(val []byte) error {
				var err error
				fields, err = decodeFields(val)
				return err
			}); err != nil {
				return err
			}

			results = append(results, store.Snapshot{
				ID:     id,
				Path:   trimmed + "/" + id,
				Fields: fields,
			})
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	return results, nil
}

// ListCollections returns the sub-collection names under a document path,
// discovered by scanning the keys below it.
func (s *DocumentStore) ListCollections(ctx context.Context, path string) ([]string, error) {
	if err := store.ValidateDocumentPath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(docPrefix + strings.Trim(path, "/") + "/")
	seen := make(map[string]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		var iterCount int
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			rest := string(it.Item().Key()[len(prefix):])
			if i := strings.Index(rest, "/"); i > 0 {
				seen[rest[:i]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-collections of %s: %w", path, err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func snapshotAt(path string, fields map[string]any) store.Snapshot {
	segs, _ := store.SplitPath(path)
	return store.Snapshot{
		ID:     segs[len(segs)-1],
		Path:   strings.Trim(path, "/"),
		Fields: fields,
	}
}
