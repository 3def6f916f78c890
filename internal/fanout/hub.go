package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sealchat/internal/metrics"
)

// BacklogSource replays persisted envelopes as NEW_MESSAGE events during
// subscriber catch-up. The message store implements it.
type BacklogSource interface {
	EventsSince(ctx context.Context, conversationID uuid.UUID, since time.Time) ([]Event, error)
}

// Hub routes broker events to locally connected sinks. It is an explicit
// instance with a Run/Shutdown lifecycle; a single goroutine owns the rooms
// map, so registration, removal and fan-out never race.
type Hub struct {
	broker  Broker
	backlog BacklogSource
	logger  zerolog.Logger

	// conversation id -> set of local sinks
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *registration
	unregister chan *Client
	done       chan struct{}
	stopped    chan struct{}
}

type registration struct {
	client *Client
	since  time.Time
	ready  chan struct{}
}

func NewHub(broker Broker, backlog BacklogSource, logger zerolog.Logger) *Hub {
	return &Hub{
		broker:     broker,
		backlog:    backlog,
		logger:     logger,
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *registration),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run relays broker events until ctx is cancelled or Shutdown is called.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)

	events, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case reg := <-h.register:
			h.attach(ctx, reg)

		case client := <-h.unregister:
			h.detach(ctx, client)

		case ev, ok := <-events:
			if !ok {
				h.dropAll()
				return nil
			}
			h.deliver(ev)

		case <-h.done:
			h.dropAll()
			return nil

		case <-ctx.Done():
			h.dropAll()
			return ctx.Err()
		}
	}
}

// Shutdown stops the run loop and closes every sink.
func (h *Hub) Shutdown(ctx context.Context) error {
	close(h.done)
	select {
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a sink and blocks until catch-up replay is done and
// the sink is live. A zero since skips catch-up.
func (h *Hub) Subscribe(c *Client, since time.Time) {
	reg := &registration{client: c, since: since, ready: make(chan struct{})}
	select {
	case h.register <- reg:
		<-reg.ready
	case <-h.done:
	}
}

// Unsubscribe removes a sink; safe to call after Shutdown.
func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// attach replays the backlog into the sink, then adds it to the room.
// Because the same goroutine also delivers live events, nothing published
// after registration can be missed; the client cursor suppresses envelopes
// that were both replayed and still in flight on the broker.
func (h *Hub) attach(ctx context.Context, reg *registration) {
	defer close(reg.ready)
	c := reg.client

	if !reg.since.IsZero() {
		backlog, err := h.backlog.EventsSince(ctx, c.conversationID, reg.since)
		if err != nil {
			h.logger.Error().Err(err).
				Stringer("conversation", c.conversationID).
				Msg("catch-up query failed")
			close(c.send)
			return
		}
		if len(backlog) > 0 {
			// The write pump is not draining yet, so the sink must hold
			// the whole replay plus live headroom; a fixed buffer would
			// truncate long histories.
			c.send = make(chan []byte, len(backlog)+sendBufferSize)
			c.replayed = make(map[uuid.UUID]bool, len(backlog))
			for _, ev := range backlog {
				if !h.push(c, ev) {
					return
				}
				c.cursor = ev.At
				c.replayed[ev.EnvelopeID] = true
			}
		}
	}

	room := h.rooms[c.conversationID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[c.conversationID] = room
	}
	room[c] = true
	metrics.LiveSubscribers.Inc()

	h.publishStatus(ctx, c, "online")
}

func (h *Hub) detach(ctx context.Context, c *Client) {
	room, ok := h.rooms[c.conversationID]
	if !ok || !room[c] {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.conversationID)
	}
	close(c.send)
	metrics.LiveSubscribers.Dec()

	h.publishStatus(ctx, c, "offline")
}

// deliver fans one event out to the conversation's local sinks. Delivery is
// best-effort per sink: a slow or dead sink is dropped without affecting
// the rest.
func (h *Hub) deliver(ev Event) {
	room := h.rooms[ev.ConversationID]
	if len(room) == 0 {
		return
	}
	for c := range room {
		if ev.Type == EventNewMessage && c.replayDup(ev) {
			continue
		}
		if !h.push(c, ev) {
			delete(room, c)
			metrics.LiveSubscribers.Dec()
		}
	}
	if len(room) == 0 {
		delete(h.rooms, ev.ConversationID)
	}
}

// push marshals the event into the sink's buffer. A full buffer means the
// sink stopped draining; its channel is closed so the write pump exits.
func (h *Hub) push(c *Client, ev Event) bool {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal event")
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		close(c.send)
		metrics.SinksReaped.Inc()
		h.logger.Warn().
			Int64("user", c.userID).
			Stringer("conversation", c.conversationID).
			Msg("dropping slow sink")
		return false
	}
}

func (h *Hub) dropAll() {
	for _, room := range h.rooms {
		for c := range room {
			close(c.send)
			metrics.LiveSubscribers.Dec()
		}
	}
	h.rooms = make(map[uuid.UUID]map[*Client]bool)
}

// publishStatus emits best-effort presence; a broker failure here must not
// affect the subscription itself.
func (h *Hub) publishStatus(ctx context.Context, c *Client, status string) {
	ev, err := NewEvent(EventStatusUpdate, c.conversationID, time.Now().UTC(), StatusPayload{
		UserID: c.userID,
		Status: status,
	})
	if err == nil {
		err = h.broker.Publish(ctx, ev)
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("status publish failed")
	}
}
