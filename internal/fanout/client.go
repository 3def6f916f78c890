package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a frame to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxFrameSize   = 4096                // Maximum inbound frame size.
	sendBufferSize = 256
)

// Client is one live subscription: the middleman between a websocket
// connection and the hub. The sink's push handle is the buffered send
// channel; cursor and replayed track what catch-up already delivered and
// are touched only by the hub goroutine.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger zerolog.Logger

	send chan []byte

	userID         int64
	deviceID       string
	conversationID uuid.UUID
	cursor         time.Time
	replayed       map[uuid.UUID]bool
}

// replayDup reports whether a live NEW_MESSAGE already reached this sink
// during catch-up. Anything strictly older than the cursor predates the
// replay window; at the cursor timestamp itself only envelopes actually
// replayed count, so a distinct envelope sharing the timestamp still goes
// through.
func (c *Client) replayDup(ev Event) bool {
	if c.cursor.IsZero() {
		return false
	}
	if ev.At.Before(c.cursor) {
		return true
	}
	return ev.At.Equal(c.cursor) && c.replayed[ev.EnvelopeID]
}

// inboundFrame is what a connected peer may send us: transient typing
// signals only. Durable sends go through the HTTP API, not the socket.
type inboundFrame struct {
	Type EventType `json:"type"`
}

// ReadPump consumes inbound frames until the connection dies, then
// deregisters the sink so memory stays bounded.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Int64("user", c.userID).Msg("websocket read error")
			}
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case EventTypingStart, EventTypingStop:
			// Transient signal: straight to the broker, never persisted.
			ev, err := NewEvent(frame.Type, c.conversationID, time.Now().UTC(), TypingPayload{UserID: c.userID})
			if err == nil {
				err = c.hub.broker.Publish(context.Background(), ev)
			}
			if err != nil {
				c.logger.Warn().Err(err).Msg("typing publish failed")
			}
		default:
			// Ignore anything else.
		}
	}
}

// WritePump pushes hub frames to the peer and keeps the connection alive
// with periodic pings; a missed pong trips the read deadline and reaps the
// sink.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the sink.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
