package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/homewatt/homewatt/pkg/store"
)

// TreeStore implements store.TreeStore on BadgerDB.
type TreeStore struct {
	db *badger.DB
}

// Put writes a value at a path.
func (s *TreeStore) Put(ctx context.Context, path string, value any) error {
	if _, err := store.SplitPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode tree value %s: %w", path, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(treeKey(path), encoded)
	})
}

// Get reads the value at an exact path.
func (s *TreeStore) Get(ctx context.Context, path string) (any, bool, error) {
	if _, err := store.SplitPath(path); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value any
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(treeKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &value)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read tree value %s: %w", path, err)
	}
	return value, found, nil
}

// DeleteSubtree removes the tree value at path and every value below it.
func (s *TreeStore) DeleteSubtree(ctx context.Context, path string) error {
	if _, err := store.SplitPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	trimmed := strings.Trim(path, "/")
	prefix := []byte(treePrefix + trimmed + "/")

	keysToDelete := [][]byte{treeKey(trimmed)}
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
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan subtree %s: %w", path, err)
	}

	// A single transaction caps the number of writes (ErrTxnTooBig), so
	// large subtrees go through a write batch, which splits itself into
	// as many transactions as needed.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keysToDelete {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete subtree %s: %w", path, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to delete subtree %s: %w", path, err)
	}
	return nil
}
