// Package receipt tracks two independent, non-interfering receipt states
// over stored envelopes: conversation-level bulk read receipts and
// per-message viewed sets. Viewing does not imply reading and vice versa;
// a message opened in a transient viewer must not mark the thread read.
package receipt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sealchat/internal/conversation"
	"sealchat/internal/fanout"
)

type Store interface {
	MarkRead(ctx context.Context, conversationID uuid.UUID, readerID int64, readAt time.Time) (int64, error)
	Cursor(ctx context.Context, conversationID uuid.UUID, readerID int64) (time.Time, error)
	ViewTarget(ctx context.Context, envelopeID uuid.UUID) (uuid.UUID, error)
	AddViewer(ctx context.Context, envelopeID uuid.UUID, viewerID int64) (uuid.UUID, []int64, bool, error)
}

type Memberships interface {
	IsParticipant(ctx context.Context, conversationID uuid.UUID, userID int64) (bool, error)
}

type Service struct {
	store     Store
	members   Memberships
	publisher fanout.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(store Store, members Memberships, publisher fanout.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		members:   members,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ReadPayload is the body of MESSAGES_READ events.
type ReadPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ReaderID       int64     `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
	UpdatedCount   int64     `json:"updated_count"`
}

// ViewedPayload is the body of MESSAGE_VIEWED events; it carries the full
// updated viewer set.
type ViewedPayload struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	ViewerID       int64     `json:"viewer_id"`
	ViewedBy       []int64   `json:"viewed_by"`
}

// MarkRead stamps every unread envelope from other senders and moves the
// reader's cursor in one atomic store operation, then publishes
// MESSAGES_READ when anything changed. A failed call leaves no partial
// state, so a retry stamps the same rows and still emits the event. A
// repeat call with nothing newly unread updates zero rows and is no error.
func (s *Service) MarkRead(ctx context.Context, conversationID uuid.UUID, readerID int64) (int64, error) {
	member, err := s.members.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if !member {
		return 0, conversation.ErrNotParticipant
	}

	readAt := s.now()
	updated, err := s.store.MarkRead(ctx, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}

	if updated > 0 {
		s.publish(ctx, fanout.EventMessagesRead, conversationID, readAt, ReadPayload{
			ConversationID: conversationID,
			ReaderID:       readerID,
			ReadAt:         readAt,
			UpdatedCount:   updated,
		})
	}
	return updated, nil
}

// MarkViewed adds the viewer to one envelope's viewed set. The set grows
// monotonically and never holds duplicates; only an actual change
// publishes MESSAGE_VIEWED.
func (s *Service) MarkViewed(ctx context.Context, envelopeID uuid.UUID, viewerID int64) ([]int64, error) {
	targetConv, err := s.store.ViewTarget(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	member, err := s.members.IsParticipant(ctx, targetConv, viewerID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, conversation.ErrNotParticipant
	}

	conversationID, viewedBy, added, err := s.store.AddViewer(ctx, envelopeID, viewerID)
	if err != nil {
		return nil, err
	}

	if added {
		s.publish(ctx, fanout.EventMessageViewed, conversationID, s.now(), ViewedPayload{
			MessageID:      envelopeID,
			ConversationID: conversationID,
			ViewerID:       viewerID,
			ViewedBy:       viewedBy,
		})
	}
	return viewedBy, nil
}

// LastReadAt exposes the reader's receipt cursor.
func (s *Service) LastReadAt(ctx context.Context, conversationID uuid.UUID, readerID int64) (time.Time, error) {
	member, err := s.members.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return time.Time{}, err
	}
	if !member {
		return time.Time{}, conversation.ErrNotParticipant
	}
	return s.store.Cursor(ctx, conversationID, readerID)
}

func (s *Service) publish(ctx context.Context, t fanout.EventType, conversationID uuid.UUID, at time.Time, payload any) {
	ev, err := fanout.NewEvent(t, conversationID, at, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		// Receipt state is durable; live delivery is best-effort.
		s.logger.Warn().Err(err).Str("event", string(t)).Msg("receipt publish failed")
	}
}
