package blob

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sealchat/internal/middleware"
)

const maxAttachmentSize = 32 << 20 // 32 MiB of ciphertext

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Upload handles POST /api/attachments. The body is the encrypted blob;
// the returned reference goes into the envelope's attachment_url.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerID(r.Context()); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAttachmentSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty attachment", http.StatusBadRequest)
		return
	}
	if len(data) > maxAttachmentSize {
		http.Error(w, "attachment too large", http.StatusRequestEntityTooLarge)
		return
	}

	ref, err := h.store.Put(r.Context(), data)
	if err != nil {
		http.Error(w, "storage unavailable, retry later", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"url": "/api/attachments/" + ref})
}

// Download handles GET /api/attachments/{ref}, returning the encrypted
// bytes exactly as stored.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CallerID(r.Context()); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := h.store.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "storage unavailable, retry later", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
