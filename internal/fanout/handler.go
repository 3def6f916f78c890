package fanout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sealchat/internal/conversation"
	"sealchat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The session token already authenticates the caller; cross-origin
	// dials are allowed so native clients can connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Memberships answers whether a caller may subscribe to a conversation.
type Memberships interface {
	IsParticipant(ctx context.Context, conversationID uuid.UUID, userID int64) (bool, error)
}

type Handler struct {
	hub     *Hub
	members Memberships
	logger  zerolog.Logger
}

func NewHandler(hub *Hub, members Memberships, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, members: members, logger: logger}
}

// ServeWs handles GET /ws?conversation_id=...&since=RFC3339. Membership is
// enforced before the upgrade; since, when present, triggers catch-up
// replay before live events.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.CallerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID, err := uuid.Parse(r.URL.Query().Get("conversation_id"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	member, err := h.members.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "membership check failed", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "not a participant", http.StatusForbidden)
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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:            h.hub,
		conn:           conn,
		logger:         h.logger,
		send:           make(chan []byte, sendBufferSize),
		userID:         userID,
		deviceID:       middleware.CallerDevice(r.Context()),
		conversationID: conversationID,
	}

	h.hub.Subscribe(client, since)

	go client.WritePump()
	go client.ReadPump()
}
