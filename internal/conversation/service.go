package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Store is the persistence surface the service needs; *Repository
// implements it against Postgres.
type Store interface {
	Insert(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	GetByKey(ctx context.Context, key string) (*Conversation, error)
	UpdateEphemeral(ctx context.Context, id uuid.UUID, policy EphemeralPolicy) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Establish finds or creates the direct conversation between requester and
// peer. Creation is idempotent: the unique participant key resolves
// concurrent creates to a single row, and losers re-fetch the winner.
func (s *Service) Establish(ctx context.Context, requesterID, peerID int64) (*Conversation, bool, error) {
	if requesterID <= 0 || peerID <= 0 {
		return nil, false, fmt.Errorf("participant ids must be positive")
	}
	if requesterID == peerID {
		return nil, false, fmt.Errorf("cannot start a conversation with yourself")
	}

	a, b := sortPair(requesterID, peerID)
	key := ParticipantKey(a, b)

	if existing, err := s.store.GetByKey(ctx, key); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	c := &Conversation{
		ID:           uuid.New(),
		Participants: [2]int64{a, b},
	}
	err := s.store.Insert(ctx, c)
	if errors.Is(err, ErrConflict) {
		// Lost a concurrent create; the constraint guarantees the
		// winner exists.
		existing, getErr := s.store.GetByKey(ctx, key)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// UpdateEphemeral changes the retention policy. Existing envelopes keep
// their rows; the sweeper applies the new policy from now on.
func (s *Service) UpdateEphemeral(ctx context.Context, conversationID uuid.UUID, requesterID int64, policy EphemeralPolicy) (*Conversation, error) {
	if policy.Mode && policy.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive when enabled", ErrInvalidPolicy)
	}
	if !policy.Mode {
		policy.DurationSeconds = 0
	}

	c, err := s.requireMember(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateEphemeral(ctx, conversationID, policy); err != nil {
		return nil, err
	}
	c.EphemeralMode = policy.Mode
	c.EphemeralTTL = policy.DurationSeconds
	return c, nil
}

// Delete removes the conversation and, through storage-level cascades,
// every envelope and receipt cursor it owns.
func (s *Service) Delete(ctx context.Context, conversationID uuid.UUID, requesterID int64) error {
	if _, err := s.requireMember(ctx, conversationID, requesterID); err != nil {
		return err
	}
	return s.store.Delete(ctx, conversationID)
}

func (s *Service) Get(ctx context.Context, conversationID uuid.UUID) (*Conversation, error) {
	return s.store.GetByID(ctx, conversationID)
}

// IsParticipant answers membership checks for the message store and the
// fan-out service.
func (s *Service) IsParticipant(ctx context.Context, conversationID uuid.UUID, userID int64) (bool, error) {
	c, err := s.store.GetByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return c.HasParticipant(userID), nil
}

// Participants returns the member set, used to wrap attachment keys.
func (s *Service) Participants(ctx context.Context, conversationID uuid.UUID) ([]int64, error) {
	c, err := s.store.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return []int64{c.Participants[0], c.Participants[1]}, nil
}

func (s *Service) requireMember(ctx context.Context, conversationID uuid.UUID, userID int64) (*Conversation, error) {
	c, err := s.store.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}
