package recorder

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Handler serves the recording switches over HTTP.
type Handler struct {
	mgr *Manager
	log *slog.Logger
}

// NewHandler returns a Handler for mgr.
func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	return &Handler{mgr: mgr, log: log}
}

type armRequest struct {
	Armed *bool `json:"armed"`
}

// SetRecord handles POST /rooms/{room}/record with {"armed": true|false}.
func (h *Handler) SetRecord(w http.ResponseWriter, r *http.Request) {
	room := strings.ToLower(chi.URLParam(r, "room"))

	var req armRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Armed == nil {
		h.log.Debug("invalid record body", slog.String("room", room))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, err := h.mgr.Arm(r.Context(), room, *req.Armed)
	switch {
	case errors.Is(err, ErrUnknownRoom):
		w.WriteHeader(http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("arm recording failed", slog.String("room", room), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetRecord handles GET /rooms/{room}/record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	st, err := h.mgr.State(strings.ToLower(chi.URLParam(r, "room")))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListRecordings handles GET /recordings.
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.States())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
