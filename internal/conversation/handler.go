package conversation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sealchat/internal/db"
	"sealchat/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Establish handles POST /api/conversations.
func (h *Handler) Establish(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.CallerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		PeerID int64 `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, created, err := h.service.Establish(r.Context(), callerID, req.PeerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(c)
}

// UpdateEphemeral handles PUT /api/conversations/{id}/ephemeral.
func (h *Handler) UpdateEphemeral(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.CallerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	var policy EphemeralPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.service.UpdateEphemeral(r.Context(), conversationID, callerID, policy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// Delete handles DELETE /api/conversations/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.CallerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(r.Context(), conversationID, callerID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "conversation not found", http.StatusNotFound)
	case errors.Is(err, ErrNotParticipant):
		http.Error(w, "not a participant", http.StatusForbidden)
	case errors.Is(err, ErrInvalidPolicy):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case db.IsUnavailable(err):
		http.Error(w, "storage unavailable, retry later", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
