// Package memory provides in-memory implementations of the store
// interfaces. Data is lost on restart. Useful for testing and development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/homewatt/homewatt/pkg/store"
)

// document is one node in the document tree. A node can be "absent"
// (exists=false) while still anchoring sub-collections, matching
// document-store semantics where deleting a document leaves its
// sub-collections in place.
type document struct {
	exists      bool
	fields      map[string]any
	collections map[string]*collection
}

type collection struct {
	docs map[string]*document
}

// DocumentStore stores documents in memory.
type DocumentStore struct {
	root map[string]*collection
	mu   sync.RWMutex
}

// NewDocumentStore creates an empty in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		root: make(map[string]*collection),
	}
}

// Get reads one document.
func (s *DocumentStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := store.ValidateDocumentPath(path); err != nil {
		return store.Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := s.lookup(path)
	if doc == nil || !doc.exists {
		return store.Snapshot{}, store.ErrNotFound
	}

	segs, _ := store.SplitPath(path)
	return store.Snapshot{
		ID:     segs[len(segs)-1],
		Path:   path,
		Fields: copyValue(doc.fields).(map[string]any),
	}, nil
}

// Set writes a document, replacing existing fields.
func (s *DocumentStore) Set(ctx context.Context, path string, fields map[string]any) error {
	if err := store.ValidateDocumentPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.materialize(path)
	doc.exists = true
	doc.fields = copyValue(fields).(map[string]any)
	return nil
}

// Merge writes fields into a document, preserving unnamed fields.
func (s *DocumentStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	if err := store.ValidateDocumentPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.materialize(path)
	if !doc.exists || doc.fields == nil {
		doc.fields = make(map[string]any)
	}
	doc.exists = true
	for k, v := range fields {
		doc.fields[k] = copyValue(v)
	}
	return nil
}

// Delete removes a document. Sub-collections are left in place.
func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	if err := store.ValidateDocumentPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.lookup(path)
	if doc == nil {
		return nil
	}
	doc.exists = false
	doc.fields = nil
	return nil
}

// ListDocuments returns existing documents in a collection, ordered by ID.
func (s *DocumentStore) ListDocuments(ctx context.Context, collectionPath string, opts store.ListOptions) ([]store.Snapshot, error) {
	if err := store.ValidateCollectionPath(collectionPath); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.lookupCollection(collectionPath)
	if col == nil {
		return nil, nil
	}

	ids := make([]string, 0, len(col.docs))
	for id, doc := range col.docs {
		if doc.exists {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var results []store.Snapshot
	for _, id := range ids {
		if opts.StartAfter != "" && id <= opts.StartAfter {
			continue
		}
		doc := col.docs[id]
		results = append(results, store.Snapshot{
			ID:     id,
			Path:   collectionPath + "/" + id,
			Fields: copyValue(doc.fields).(map[string]any),
		})
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

// ListCollections returns the sub-collection names under a document path
// that still hold data, sorted.
func (s *DocumentStore) ListCollections(ctx context.Context, path string) ([]string, error) {
	if err := store.ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := s.lookup(path)
	if doc == nil {
		return nil, nil
	}

	var names []string
	for name, col := range doc.collections {
		if collectionHasContent(col) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// lookup walks the tree without creating nodes. Returns nil if any
// segment is missing.
func (s *DocumentStore) lookup(path string) *document {
	segs, _ := store.SplitPath(path)

	cols := s.root
	var doc *document
	for i := 0; i < len(segs); i += 2 {
		col, ok := cols[segs[i]]
		if !ok {
			return nil
		}
		doc, ok = col.docs[segs[i+1]]
		if !ok {
			return nil
		}
		cols = doc.collections
	}
	return doc
}

func (s *DocumentStore) lookupCollection(path string) *collection {
	segs, _ := store.SplitPath(path)

	if len(segs) == 1 {
		return s.root[segs[0]]
	}
	doc := s.lookup(strings.Join(segs[:len(segs)-1], "/"))
	if doc == nil {
		return nil
	}
	return doc.collections[segs[len(segs)-1]]
}

// materialize walks the tree creating placeholder nodes as needed and
// returns the document node at path. Intermediate documents are created
// absent (exists=false).
func (s *DocumentStore) materialize(path string) *document {
	segs, _ := store.SplitPath(path)

	cols := s.root
	var doc *document
	for i := 0; i < len(segs); i += 2 {
		col, ok := cols[segs[i]]
		if !ok {
			col = &collection{docs: make(map[string]*document)}
			cols[segs[i]] = col
		}
		doc, ok = col.docs[segs[i+1]]
		if !ok {
			doc = &document{collections: make(map[string]*collection)}
			col.docs[segs[i+1]] = doc
		}
		cols = doc.collections
	}
	return doc
}

func collectionHasContent(col *collection) bool {
	for _, doc := range col.docs {
		if doc.exists {
			return true
		}
		for _, sub := range doc.collections {
			if collectionHasContent(sub) {
				return true
			}
		}
	}
	return false
}

// copyValue deep-copies JSON-shaped values so callers never alias
// stored state.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// TreeStore stores key-path values in memory.
type TreeStore struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewTreeStore creates an empty in-memory tree store.
func NewTreeStore() *TreeStore {
	return &TreeStore{
		values: make(map[string]any),
	}
}

// Put writes a value at a path.
func (s *TreeStore) Put(ctx context.Context, path string, value any) error {
	if _, err := store.SplitPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[strings.Trim(path, "/")] = copyValue(value)
	return nil
}

// Get reads the value at an exact path.
func (s *TreeStore) Get(ctx context.Context, path string) (any, bool, error) {
	if _, err := store.SplitPath(path); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[strings.Trim(path, "/")]
	if !ok {
		return nil, false, nil
	}
	return copyValue(v), true, nil
}

// DeleteSubtree removes the value at path and everything below it.
func (s *TreeStore) DeleteSubtree(ctx context.Context, path string) error {
	if _, err := store.SplitPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed := strings.Trim(path, "/")
	delete(s.values, trimmed)
	prefix := trimmed + "/"
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			delete(s.values, k)
		}
	}
	return nil
}
