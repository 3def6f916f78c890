package message

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sealchat/internal/conversation"
	"sealchat/internal/fanout"
	"sealchat/internal/metrics"
)

// Store is the persistence surface; *Repository implements it. Idempotency
// lives in the store's uniqueness guarantee, not in this service.
type Store interface {
	Append(ctx context.Context, env *Envelope) (*Envelope, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Envelope, error)
	EnvelopesSince(ctx context.Context, conversationID uuid.UUID, since time.Time) ([]*Envelope, error)
}

// Memberships is what we need from the conversation state manager.
type Memberships interface {
	IsParticipant(ctx context.Context, conversationID uuid.UUID, userID int64) (bool, error)
}

type Service struct {
	store     Store
	members   Memberships
	publisher fanout.Publisher
	logger    zerolog.Logger
}

func NewService(store Store, members Memberships, publisher fanout.Publisher, logger zerolog.Logger) *Service {
	return &Service{store: store, members: members, publisher: publisher, logger: logger}
}

// Send appends an envelope and, on first insert only, publishes NEW_MESSAGE
// to the conversation's live stream. A retried send with the same
// idempotency key returns the prior envelope and publishes nothing.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Envelope, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	member, err := s.members.IsParticipant(ctx, req.ConversationID, req.SenderUserID)
	if err != nil {
		return nil, false, err
	}
	if !member {
		return nil, false, conversation.ErrNotParticipant
	}

	env := &Envelope{
		ID:             uuid.New(),
		ConversationID: req.ConversationID,
		SenderUserID:   req.SenderUserID,
		SenderDeviceID: req.SenderDeviceID,
		MessageID:      req.MessageID,
		CipherText:     req.CipherText,
		AttachmentURL:  req.AttachmentURL,
		AttachmentMeta: req.AttachmentMeta,
	}

	stored, appended, err := s.store.Append(ctx, env)
	if err != nil {
		return nil, false, err
	}

	if !appended {
		metrics.DuplicateSends.Inc()
		return stored, false, nil
	}

	metrics.MessagesAppended.Inc()
	ev, err := fanout.NewEvent(fanout.EventNewMessage, stored.ConversationID, stored.CreatedAt, stored)
	if err == nil {
		ev.EnvelopeID = stored.ID
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		// The envelope is durable; subscribers recover it via catch-up.
		s.logger.Warn().Err(err).
			Stringer("conversation", stored.ConversationID).
			Str("message_id", stored.MessageID).
			Msg("publish after append failed")
	}
	return stored, true, nil
}

// History returns the caller's view of a conversation since a cursor.
func (s *Service) History(ctx context.Context, conversationID uuid.UUID, callerID int64, since time.Time) ([]*Envelope, error) {
	member, err := s.members.IsParticipant(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, conversation.ErrNotParticipant
	}
	return s.store.EnvelopesSince(ctx, conversationID, since)
}

// EventsSince implements fanout.BacklogSource: persisted envelopes replayed
// as NEW_MESSAGE events for subscriber catch-up. Typing and status signals
// are not part of the durable log and never appear here.
func (s *Service) EventsSince(ctx context.Context, conversationID uuid.UUID, since time.Time) ([]fanout.Event, error) {
	envelopes, err := s.store.EnvelopesSince(ctx, conversationID, since)
	if err != nil {
		return nil, err
	}
	events := make([]fanout.Event, 0, len(envelopes))
	for _, env := range envelopes {
		ev, err := fanout.NewEvent(fanout.EventNewMessage, env.ConversationID, env.CreatedAt, env)
		if err != nil {
			return nil, err
		}
		ev.EnvelopeID = env.ID
		events = append(events, ev)
	}
	return events, nil
}
