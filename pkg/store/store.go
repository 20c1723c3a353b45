package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a document does not exist at the given path.
var ErrNotFound = errors.New("document not found")

// Snapshot is a read view of one document.
type Snapshot struct {
	// ID is the final path segment (the document identifier).
	ID string

	// Path is the full slash-separated document path.
	Path string

	// Fields holds the document's values, JSON-shaped: numbers are float64,
	// nested objects are map[string]any.
	Fields map[string]any
}

// ListOptions controls paginated document listing.
type ListOptions struct {
	// Limit caps the number of documents returned (0 = backend default).
	Limit int

	// StartAfter resumes listing after this document ID (exclusive cursor).
	StartAfter string
}

// DocumentStore is the document-oriented backend: documents addressed by
// slash-separated paths, alternating collection and document segments
// (e.g. "last_week/dev-1/history/2024-01-02T15:04:05Z").
//
// Semantics follow the usual document-store model: deleting a document does
// not delete its sub-collections, and a document can be absent while its
// sub-collections still hold data.
//
// Implementations: memory (testing), badgerstore (production).
type DocumentStore interface {
	// Get reads one document. Returns ErrNotFound if absent.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Set writes a document, replacing any existing fields.
	Set(ctx context.Context, path string, fields map[string]any) error

	// Merge writes the given fields into a document, preserving fields
	// not named in the update. Creates the document if absent.
	Merge(ctx context.Context, path string, fields map[string]any) error

	// Delete removes a document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, path string) error

	// ListDocuments returns the documents directly inside a collection,
	// ordered by ID. Callers page through large collections via
	// ListOptions.StartAfter.
	ListDocuments(ctx context.Context, collection string, opts ListOptions) ([]Snapshot, error)

	// ListCollections returns the names of the sub-collections under a
	// document path, sorted. The document itself does not need to exist.
	ListCollections(ctx context.Context, path string) ([]string, error)
}

// TreeStore is the hierarchical key-path backend. Values live at
// slash-separated paths with no collection/document alternation.
type TreeStore interface {
	// Put writes a value at a path.
	Put(ctx context.Context, path string, value any) error

	// Get reads the value at an exact path. The bool reports existence.
	Get(ctx context.Context, path string) (any, bool, error)

	// DeleteSubtree removes the value at path and every value below it.
	DeleteSubtree(ctx context.Context, path string) error
}

// SplitPath splits a slash-separated path into its segments, rejecting
// empty segments.
func SplitPath(path string) ([]string, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("invalid path %q: empty segment", path)
		}
	}
	return segs, nil
}

// ValidateDocumentPath checks that a path addresses a document: a non-zero,
// even number of non-empty segments.
func ValidateDocumentPath(path string) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 0 {
		return fmt.Errorf("invalid document path %q: odd segment count", path)
	}
	return nil
}

// ValidateCollectionPath checks that a path addresses a collection: an odd
// number of non-empty segments.
func ValidateCollectionPath(path string) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 1 {
		return fmt.Errorf("invalid collection path %q: even segment count", path)
	}
	return nil
}
