// Package badgerstore implements the store interfaces on BadgerDB.
// A single DB backs both the document store and the tree store, split
// into separate key namespaces.
package badgerstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Key namespaces. Document keys are docPrefix + path; tree keys are
// treePrefix + path. Paths keep their readable slash form so prefix
// iteration gives ordered listing and subtree scans for free.
const (
	docPrefix  = "d!"
	treePrefix = "t!"
)

const defaultListLimit = 500

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = defaults).
	MaxMemoryMB int64
}

// DB is an open BadgerDB instance serving both store namespaces.
type DB struct {
	db *badger.DB
}

// Open opens a BadgerDB-backed store.
func Open(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits. BadgerDB defaults assume a large host;
	// without bounds the block and index caches grow unchecked.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(1).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &DB{db: db}, nil
}

// Documents returns the document-store view.
func (d *DB) Documents() *DocumentStore {
	return &DocumentStore{db: d.db}
}

// Tree returns the tree-store view.
func (d *DB) Tree() *TreeStore {
	return &TreeStore{db: d.db}
}

// Close shuts down BadgerDB cleanly.
func (d *DB) Close() error {
	return d.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection to reclaim disk
// space from deleted values. Returns badger.ErrNoRewrite when nothing
// needed collecting.
func (d *DB) RunGC(discardRatio float64) error {
	return d.db.RunValueLogGC(discardRatio)
}

func docKey(path string) []byte {
	return []byte(docPrefix + strings.Trim(path, "/"))
}

func treeKey(path string) []byte {
	return []byte(treePrefix + strings.Trim(path, "/"))
}

func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	return json.Marshal(fields)
}

func decodeFields(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
