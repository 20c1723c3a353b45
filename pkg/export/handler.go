package export

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/httpx"
	"github.com/homewatt/homewatt/pkg/store"
)

// Handler handles backup export/import HTTP endpoints.
type Handler struct {
	exporter *Exporter
	importer *Importer
	log      zerolog.Logger
}

// NewHandler creates a new export/import handler.
func NewHandler(docs store.DocumentStore, logger zerolog.Logger) *Handler {
	return &Handler{
		exporter: NewExporter(docs),
		importer: NewImporter(docs),
		log:      logger.With().Str("component", "export").Logger(),
	}
}

// HandleExport handles GET /v1/export.
// Query params:
//   - root: top-level collection to export, repeatable (default: all known roots)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	opts := ExportOptions{}
	for _, root := range r.URL.Query()["root"] {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if err := store.ValidateCollectionPath(root); err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid root %q: %v", root, err))
			return
		}
		opts.Roots = append(opts.Roots, root)
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=homewatt-backup-%s.json", timestamp))

	result, err := h.exporter.ExportToJSON(r.Context(), w, opts)
	if err != nil {
		// Headers may already be written, so only log.
		h.log.Error().Err(err).Msg("export failed")
		return
	}

	h.log.Info().
		Int("documents", result.DocumentsExported).
		Strs("roots", result.Roots).
		Msg("export completed")
}

// HandleImport handles POST /v1/import, replaying a JSON backup into the
// document store.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body)
	if err != nil {
		h.log.Error().Err(err).Msg("import failed")
		httpx.RespondErrorString(w, http.StatusInternalServerError, fmt.Sprintf("import failed: %v", err))
		return
	}

	if len(result.Errors) > 0 {
		h.log.Warn().
			Int("skipped", len(result.Errors)).
			Msg("import completed with validation errors")
	}
	h.log.Info().
		Int("documents", result.DocumentsImported).
		Msg("import completed")

	httpx.RespondJSON(w, http.StatusOK, result)
}
