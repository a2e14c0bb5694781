// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	repository "github.com/okian/stint/internal/adapters/repository"
	service "github.com/okian/stint/internal/app"
	"github.com/okian/stint/internal/domain/model"
)

// SessionDependencies defines the interface for session operations.
type SessionDependencies interface {
	BeginSession(ctx context.Context, key string, totalLaps int) error
	TeardownSession(ctx context.Context, key string) error
	Sessions(ctx context.Context) []string
	Session(ctx context.Context, key string) (model.SessionState, error)
	Drivers(ctx context.Context, key string) ([]model.DriverState, error)
	Driver(ctx context.Context, key, driverID string) (model.DriverState, error)
}

// SessionsHandler handles session lifecycle and snapshot requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// sessionRequest mirrors the OpenAPI schema for POST /sessions.
type sessionRequest struct {
	SessionKey string `json:"session_key"`
	TotalLaps  int    `json:"total_laps"`
}

func (s sessionRequest) validate() error {
	switch {
	case strings.TrimSpace(s.SessionKey) == "":
		return errors.New("missing session_key")
	case strings.Contains(s.SessionKey, "/"):
		return errors.New("session_key must not contain '/'")
	case s.TotalLaps < 0:
		return errors.New("total_laps must not be negative")
	}
	return nil
}

// sessionsResponse is the GET /sessions body.
type sessionsResponse struct {
	Sessions []string `json:"sessions"`
}

// HandleSessions handles POST /sessions and GET /sessions.
func (h *SessionsHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleBegin(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, sessionsResponse{Sessions: h.deps.Sessions(r.Context())})
	default:
		http.NotFound(w, r)
	}
}

func (h *SessionsHandler) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	if err := h.deps.BeginSession(r.Context(), req.SessionKey, req.TotalLaps); err != nil {
		if errors.Is(err, service.ErrSessionExists) {
			writeError(w, http.StatusConflict, "session_exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusCreated, ackResponse{Status: "created"})
}

// HandleSessionSubtree routes /sessions/{key}, /sessions/{key}/drivers and
// /sessions/{key}/drivers/{id}.
func (h *SessionsHandler) HandleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		h.handleOne(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "drivers":
		h.handleDrivers(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "drivers" && parts[2] != "":
		h.handleDriver(w, r, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (h *SessionsHandler) handleOne(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := h.deps.Session(r.Context(), key)
		if err != nil {
			h.writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := h.deps.TeardownSession(r.Context(), key); err != nil {
			h.writeLookupError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (h *SessionsHandler) handleDrivers(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	drivers, err := h.deps.Drivers(r.Context(), key)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (h *SessionsHandler) handleDriver(w http.ResponseWriter, r *http.Request, key, driverID string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	driver, err := h.deps.Driver(r.Context(), key, driverID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (h *SessionsHandler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrDriverNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
