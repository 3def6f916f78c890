package receipt

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sealchat/internal/conversation"
	"sealchat/internal/db"
	"sealchat/internal/message"
	"sealchat/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// MarkRead handles POST /api/conversations/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
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

	updated, err := h.service.MarkRead(r.Context(), conversationID, callerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"updated_count": updated})
}

// MarkViewed handles POST /api/messages/{id}/viewed.
func (h *Handler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.CallerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	envelopeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	viewedBy, err := h.service.MarkViewed(r.Context(), envelopeID, callerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"viewed_by": viewedBy,
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, message.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, conversation.ErrNotParticipant):
		http.Error(w, "not a participant", http.StatusForbidden)
	case db.IsUnavailable(err):
		http.Error(w, "storage unavailable, retry later", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
