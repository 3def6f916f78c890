package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrNotParticipant = errors.New("caller is not a participant")
	ErrConflict       = errors.New("conversation already exists for participants")
	ErrInvalidPolicy  = errors.New("invalid ephemeral policy")
)

// Conversation is a direct (two-party) thread. Participants are stored
// sorted so (a,b) and (b,a) resolve to the same row.
type Conversation struct {
	ID            uuid.UUID `json:"id"`
	Participants  [2]int64  `json:"participants"`
	EphemeralMode bool      `json:"ephemeral_mode"`
	EphemeralTTL  int64     `json:"ephemeral_ttl_seconds"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID int64) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// EphemeralPolicy is the mutable retention setting of a conversation.
type EphemeralPolicy struct {
	Mode            bool  `json:"mode"`
	DurationSeconds int64 `json:"duration_seconds"`
}

// ParticipantKey is the canonical uniqueness key over the sorted
// participant set. No two conversations may share one.
func ParticipantKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func sortPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
