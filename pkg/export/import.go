package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/homewatt/homewatt/pkg/store"
)

// ImportResult contains stats about the import operation.
type ImportResult struct {
	DocumentsImported int       `json:"documents_imported"`
	ImportedAt        time.Time `json:"imported_at"`
	Errors            []string  `json:"errors,omitempty"`
}

// Importer replays a backup into the document store.
type Importer struct {
	docs store.DocumentStore
}

// NewImporter creates a new importer.
func NewImporter(docs store.DocumentStore) *Importer {
	return &Importer{docs: docs}
}

// ImportFromJSON reads a backup and writes its documents back. Documents
// with invalid paths are skipped and reported; a store write error aborts
// the import.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}

	result := &ImportResult{ImportedAt: time.Now().UTC()}
	for i, doc := range backup.Documents {
		if err := store.ValidateDocumentPath(doc.Path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("document %d: %v", i, err))
			continue
		}
		fields := doc.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		if err := im.docs.Set(ctx, doc.Path, fields); err != nil {
			return nil, fmt.Errorf("failed to write document %s: %w", doc.Path, err)
		}
		result.DocumentsImported++
	}
	return result, nil
}
