package erasure

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/httpx"
)

// Handler serves the user-erasure endpoint.
type Handler struct {
	svc *Service
	log zerolog.Logger
}

// NewHandler creates the erasure HTTP handler.
func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: logger.With().Str("component", "erasure").Logger(),
	}
}

// EraseRequest is the request payload.
type EraseRequest struct {
	UID string `json:"uid"`
}

// EraseResponse is the success payload.
type EraseResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleErase handles POST /v1/users/erase. Missing uid -> 400 with no
// mutation; backend failure -> 500 with the failing detail.
func (h *Handler) HandleErase(w http.ResponseWriter, r *http.Request) {
	var req EraseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	uid := strings.TrimSpace(req.UID)
	if uid == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, ErrMissingUID.Error())
		return
	}

	if err := h.svc.Erase(r.Context(), uid); err != nil {
		h.log.Error().Err(err).Str("uid", uid).Msg("user erasure failed")
		httpx.RespondErrorString(w, http.StatusInternalServerError,
			fmt.Sprintf("error deleting user data for %s: %v", uid, err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, EraseResponse{
		Status:  "success",
		Message: fmt.Sprintf("successfully deleted user data for %s", uid),
	})
}
