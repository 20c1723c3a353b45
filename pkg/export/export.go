// Package export dumps and restores the document store as JSON backups.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/homewatt/homewatt/pkg/rollup"
	"github.com/homewatt/homewatt/pkg/store"
)

const exportPageSize = 500

// DefaultRoots are the collections included when no root filter is given.
func DefaultRoots() []string {
	roots := []string{rollup.RawHistoryCollection}
	for _, period := range rollup.Periods() {
		roots = append(roots, string(period))
	}
	return append(roots, "users", "environmental_data")
}

// Document is one exported document: its full path and fields.
type Document struct {
	Path   string         `json:"path"`
	Fields map[string]any `json:"fields"`
}

// Metadata describes a backup file.
type Metadata struct {
	ExportedAt    time.Time `json:"exported_at"`
	Roots         []string  `json:"roots"`
	DocumentCount int       `json:"document_count"`
	Version       string    `json:"version"`
}

// Backup is the on-wire backup format.
type Backup struct {
	Metadata  Metadata   `json:"metadata"`
	Documents []Document `json:"documents"`
}

// ExportOptions configures the export operation.
type ExportOptions struct {
	// Roots limits the export to these top-level collections
	// (nil = DefaultRoots).
	Roots []string
}

// ExportResult contains stats about the export.
type ExportResult struct {
	DocumentsExported int       `json:"documents_exported"`
	Roots             []string  `json:"roots"`
	ExportedAt        time.Time `json:"exported_at"`
}

// Exporter walks the document store and serializes it.
type Exporter struct {
	docs store.DocumentStore
}

// NewExporter creates a new exporter.
func NewExporter(docs store.DocumentStore) *Exporter {
	return &Exporter{docs: docs}
}

// ExportToJSON writes a backup of the selected roots to w. Documents are
// emitted parent-first so a later import can replay them in order.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	roots := opts.Roots
	if len(roots) == 0 {
		roots = DefaultRoots()
	}

	backup := Backup{
		Metadata: Metadata{
			ExportedAt: time.Now().UTC(),
			Roots:      roots,
			Version:    "1.0",
		},
	}

	for _, root := range roots {
		if err := store.ValidateCollectionPath(root); err != nil {
			return nil, fmt.Errorf("invalid root collection %q: %w", root, err)
		}
		if err := e.exportCollection(ctx, root, &backup.Documents); err != nil {
			return nil, fmt.Errorf("failed to export collection %s: %w", root, err)
		}
	}
	backup.Metadata.DocumentCount = len(backup.Documents)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}

	return &ExportResult{
		DocumentsExported: backup.Metadata.DocumentCount,
		Roots:             roots,
		ExportedAt:        backup.Metadata.ExportedAt,
	}, nil
}

// exportCollection appends every document under the collection, recursing
// into sub-collections.
func (e *Exporter) exportCollection(ctx context.Context, path string, out *[]Document) error {
	cursor := ""
	for {
		page, err := e.docs.ListDocuments(ctx, path, store.ListOptions{
			Limit:      exportPageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, snap := range page {
			*out = append(*out, Document{Path: snap.Path, Fields: snap.Fields})

			subs, err := e.docs.ListCollections(ctx, snap.Path)
			if err != nil {
				return err
			}
			for _, sub := range subs {
				if err := e.exportCollection(ctx, snap.Path+"/"+sub, out); err != nil {
					return err
				}
			}
		}
		cursor = page[len(page)-1].ID
	}
}
