// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	repository "github.com/okian/stint/internal/adapters/repository"
	service "github.com/okian/stint/internal/app"
	"github.com/okian/stint/internal/domain/model"
)

// UpdateDependencies defines the interface for update submission.
type UpdateDependencies interface {
	SubmitUpdate(ctx context.Context, u *model.Update) error
}

// UpdatesHandler handles raw feed update requests.
type UpdatesHandler struct {
	deps UpdateDependencies
}

// NewUpdatesHandler creates a new updates handler.
func NewUpdatesHandler(deps UpdateDependencies) *UpdatesHandler {
	return &UpdatesHandler{deps: deps}
}

// HandlePostUpdate handles POST /updates requests.
func (h *UpdatesHandler) HandlePostUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var u model.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	if err := h.deps.SubmitUpdate(r.Context(), &u); err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidUpdate):
			writeError(w, http.StatusBadRequest, "bad_request", err)
		case errors.Is(err, repository.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "not_found", err)
		case errors.Is(err, repository.ErrSessionClosed):
			writeError(w, http.StatusConflict, "session_closed", err)
		case errors.Is(err, service.ErrBackpressure):
			writeError(w, http.StatusTooManyRequests, "backpressure", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
