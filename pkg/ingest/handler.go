// Package ingest accepts raw device history writes and feeds them to
// the fan-out pipeline, standing in for the platform's document-write
// trigger.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/fanout"
	"github.com/homewatt/homewatt/pkg/httpx"
	"github.com/homewatt/homewatt/pkg/rollup"
	"github.com/homewatt/homewatt/pkg/store"
)

// Handler handles raw history ingestion and rollup reads.
type Handler struct {
	docs   store.DocumentStore
	copier *fanout.Copier
	log    zerolog.Logger
}

// NewHandler creates an ingest handler.
func NewHandler(docs store.DocumentStore, copier *fanout.Copier, logger zerolog.Logger) *Handler {
	return &Handler{
		docs:   docs,
		copier: copier,
		log:    logger.With().Str("component", "ingest").Logger(),
	}
}

// RecordRequest is one raw history record. Children carries optional
// nested sub-records: collection name -> document ID -> fields.
type RecordRequest struct {
	StartTime string                               `json:"start_time"`
	Fields    map[string]any                       `json:"fields"`
	Children  map[string]map[string]map[string]any `json:"children,omitempty"`
}

// RecordResponse is the ingestion success payload.
type RecordResponse struct {
	Status    string `json:"status"`
	DeviceID  string `json:"device_id"`
	StartTime string `json:"start_time"`
}

// HandleRecord handles POST /v1/devices/{device}/history. It writes the
// raw record (and any sub-records) to the device_history collection and
// then runs fan-out, exactly as the platform write-trigger would.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device"]
	if deviceID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "device id not provided")
		return
	}

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.StartTime == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start_time not provided")
		return
	}
	if _, err := time.Parse(time.RFC3339, req.StartTime); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid start_time: %v", err))
		return
	}
	if req.Fields == nil {
		req.Fields = map[string]any{}
	}

	rawPath := rollup.RawHistoryPath(deviceID) + "/" + req.StartTime
	if err := h.docs.Set(r.Context(), rawPath, req.Fields); err != nil {
		h.log.Error().
			Err(err).
			Str("device_id", deviceID).
			Str("start_time", req.StartTime).
			Msg("failed to write raw history record")
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to write record")
		return
	}

	for name, docs := range req.Children {
		for id, fields := range docs {
			childPath := rawPath + "/" + name + "/" + id
			if err := h.docs.Set(r.Context(), childPath, fields); err != nil {
				h.log.Error().
					Err(err).
					Str("path", childPath).
					Msg("failed to write sub-record")
				httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to write sub-record")
				return
			}
		}
	}

	h.copier.HandleWrite(r.Context(), fanout.Event{
		DeviceID:  deviceID,
		StartTime: req.StartTime,
		After:     req.Fields,
	})

	httpx.RespondJSON(w, http.StatusOK, RecordResponse{
		Status:    "success",
		DeviceID:  deviceID,
		StartTime: req.StartTime,
	})
}

// HandleRollups handles GET /v1/devices/{device}/rollups, returning the
// aggregate document of each period that has one.
func (h *Handler) HandleRollups(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device"]
	if deviceID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "device id not provided")
		return
	}

	result := make(map[string]map[string]any)
	for _, period := range rollup.Periods() {
		snap, err := h.docs.Get(r.Context(), period.AggregatePath(deviceID))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			h.log.Error().
				Err(err).
				Str("device_id", deviceID).
				Str("period", string(period)).
				Msg("failed to read aggregate")
			httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to read aggregates")
			return
		}
		result[string(period)] = snap.Fields
	}

	httpx.RespondJSON(w, http.StatusOK, result)
}
