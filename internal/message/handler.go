package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"sealchat/internal/conversation"
	"sealchat/internal/db"
	"sealchat/internal/metrics"
	"sealchat/internal/middleware"
	"sealchat/internal/ratelimit"
)

// SendLimiter enforces the per-user send quota.
type SendLimiter interface {
	Allow(ctx context.Context, userID int64) (time.Duration, error)
}

type Handler struct {
	service *Service
	limiter SendLimiter
}

func NewHandler(service *Service, limiter SendLimiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

// Send handles POST /api/messages.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.CallerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	retryAfter, err := h.limiter.Allow(r.Context(), callerID)
	if errors.Is(err, ratelimit.ErrRateLimited) {
		metrics.RateLimitHits.Inc()
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
		http.Error(w, "send quota exceeded", http.StatusTooManyRequests)
		return
	}
	// Any other limiter failure is ignored: quota is protection, not a
	// correctness property, and redis being down must not block sends.

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.SenderUserID = callerID
	req.SenderDeviceID = middleware.CallerDevice(r.Context())

	env, appended, err := h.service.Send(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if appended {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"envelope": env,
	})
}

// History handles GET /api/messages?conversation_id=...&since=RFC3339.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.CallerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(r.URL.Query().Get("conversation_id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}
	}

	envelopes, err := h.service.History(r.Context(), conversationID, callerID, since)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if envelopes == nil {
		envelopes = []*Envelope{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelopes)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, conversation.ErrNotParticipant):
		http.Error(w, "not a participant", http.StatusForbidden)
	case errors.Is(err, ErrInvalidArg):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case db.IsUnavailable(err):
		http.Error(w, "storage unavailable, retry later", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
