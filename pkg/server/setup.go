// Package server wires the HTTP surface and background tasks.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/erasure"
	"github.com/homewatt/homewatt/pkg/export"
	"github.com/homewatt/homewatt/pkg/ingest"
	"github.com/homewatt/homewatt/pkg/live"
)

var startTime = time.Now()

// requestIDHeader carries the per-request correlation ID.
const requestIDHeader = "X-Request-ID"

// NewRouter builds the API router.
func NewRouter(
	ingestHandler *ingest.Handler,
	erasureHandler *erasure.Handler,
	exportHandler *export.Handler,
	hub *live.Hub,
	logger zerolog.Logger,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware(logger))

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/devices/{device}/history", ingestHandler.HandleRecord).Methods("POST")
	api.HandleFunc("/devices/{device}/rollups", ingestHandler.HandleRollups).Methods("GET")
	api.HandleFunc("/users/erase", erasureHandler.HandleErase).Methods("POST")
	api.HandleFunc("/export", exportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/import", exportHandler.HandleImport).Methods("POST")
	api.HandleFunc("/health", handleHealth).Methods("GET")
	api.HandleFunc("/ws", hub.Handle).Methods("GET")

	return router
}

// requestIDMiddleware tags every request with a correlation ID and logs
// its outcome.
func requestIDMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(requestIDHeader, requestID)

			reqLogger := logger.With().Str("request_id", requestID).Logger()
			r = r.WithContext(reqLogger.WithContext(r.Context()))

			start := time.Now()
			next.ServeHTTP(w, r)
			reqLogger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request handled")
		})
	}
}

// handleHealth returns service health status.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "healthy",
		"uptime": time.Since(startTime).String(),
	})
}
