package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sealchat/internal/conversation"
	"sealchat/internal/fanout"
)

// memoryStore mirrors the storage contract: a uniqueness guarantee over
// (conversation_id, message_id) resolves duplicate appends to one row.
type memoryStore struct {
	mu    sync.Mutex
	rows  []*Envelope
	clock int64 // monotonic microsecond counter standing in for now()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (m *memoryStore) Append(_ context.Context, env *Envelope) (*Envelope, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ConversationID == env.ConversationID && row.MessageID == env.MessageID {
			cp := *row
			return &cp, false, nil
		}
	}
	m.clock++
	env.CreatedAt = time.Unix(0, m.clock*int64(time.Microsecond)).UTC()
	env.ViewedBy = []int64{}
	cp := *env
	m.rows = append(m.rows, &cp)
	return env, true, nil
}

func (m *memoryStore) GetByID(_ context.Context, id uuid.UUID) (*Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryStore) EnvelopesSince(_ context.Context, conversationID uuid.UUID, since time.Time) ([]*Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Envelope
	for _, row := range m.rows {
		if row.ConversationID == conversationID && row.CreatedAt.After(since) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

type staticMembers struct {
	members map[uuid.UUID][]int64
}

func (s *staticMembers) IsParticipant(_ context.Context, conversationID uuid.UUID, userID int64) (bool, error) {
	ids, ok := s.members[conversationID]
	if !ok {
		return false, conversation.ErrNotFound
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev fanout.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestService(t *testing.T, convID uuid.UUID, participants ...int64) (*Service, *memoryStore, *recordingPublisher) {
	t.Helper()
	store := newMemoryStore()
	pub := &recordingPublisher{}
	members := &staticMembers{members: map[uuid.UUID][]int64{convID: participants}}
	return NewService(store, members, pub, zerolog.Nop()), store, pub
}

func TestSendIsIdempotent(t *testing.T) {
	convID := uuid.New()
	svc, store, pub := newTestService(t, convID, 1, 2)
	ctx := context.Background()

	req := SendRequest{
		ConversationID: convID,
		SenderUserID:   1,
		SenderDeviceID: "phone-1",
		MessageID:      "m1",
		CipherText:     "opaque-ciphertext",
	}

	first, appended, err := svc.Send(ctx, req)
	require.NoError(t, err)
	require.True(t, appended)

	// Retried send: same stored envelope, no new row, no second publish.
	second, appended, err := svc.Send(ctx, req)
	require.NoError(t, err)
	require.False(t, appended)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.Equal(t, first.CipherText, second.CipherText)
	require.Len(t, store.rows, 1)
	require.Equal(t, 1, pub.count())
}

func TestSendFromNonParticipantCreatesNoRow(t *testing.T) {
	convID := uuid.New()
	svc, store, pub := newTestService(t, convID, 1, 2)

	_, _, err := svc.Send(context.Background(), SendRequest{
		ConversationID: convID,
		SenderUserID:   99,
		MessageID:      "m1",
		CipherText:     "ct",
	})
	require.ErrorIs(t, err, conversation.ErrNotParticipant)
	require.Empty(t, store.rows)
	require.Zero(t, pub.count())
}

func TestSendToMissingConversation(t *testing.T) {
	svc, _, _ := newTestService(t, uuid.New(), 1, 2)

	_, _, err := svc.Send(context.Background(), SendRequest{
		ConversationID: uuid.New(),
		SenderUserID:   1,
		MessageID:      "m1",
		CipherText:     "ct",
	})
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestSendValidation(t *testing.T) {
	convID := uuid.New()
	svc, _, _ := newTestService(t, convID, 1, 2)
	ctx := context.Background()

	cases := []SendRequest{
		{SenderUserID: 1, MessageID: "m1", CipherText: "ct"},                 // no conversation
		{ConversationID: convID, SenderUserID: 1, CipherText: "ct"},          // no idempotency key
		{ConversationID: convID, SenderUserID: 1, MessageID: "m1"},           // no ciphertext
		{ConversationID: convID, SenderUserID: 1, MessageID: "m1", CipherText: "ct", AttachmentURL: "/x"}, // url without meta
	}
	for _, req := range cases {
		_, _, err := svc.Send(ctx, req)
		require.ErrorIs(t, err, ErrInvalidArg)
	}
}

func TestHistorySinceIsStrict(t *testing.T) {
	convID := uuid.New()
	svc, _, _ := newTestService(t, convID, 1, 2)
	ctx := context.Background()

	var cutoff time.Time
	for i, id := range []string{"m1", "m2", "m3"} {
		env, _, err := svc.Send(ctx, SendRequest{
			ConversationID: convID, SenderUserID: 1, MessageID: id, CipherText: "ct",
		})
		require.NoError(t, err)
		if i == 0 {
			cutoff = env.CreatedAt
		}
	}

	history, err := svc.History(ctx, convID, 2, cutoff)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, env := range history {
		require.True(t, env.CreatedAt.After(cutoff))
	}

	_, err = svc.History(ctx, convID, 99, time.Time{})
	require.ErrorIs(t, err, conversation.ErrNotParticipant)
}

func TestEventsSinceMatchesContinuousObserver(t *testing.T) {
	convID := uuid.New()
	svc, _, pub := newTestService(t, convID, 1, 2)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		_, _, err := svc.Send(ctx, SendRequest{
			ConversationID: convID, SenderUserID: 1, MessageID: id, CipherText: "ct",
		})
		require.NoError(t, err)
	}

	// A subscriber catching up from T observes exactly what a continuously
	// connected subscriber saw after T: same count, same order, no gaps.
	cutoff := pub.events[1].At
	replay, err := svc.EventsSince(ctx, convID, cutoff)
	require.NoError(t, err)
	require.Len(t, replay, 2)
	require.Equal(t, pub.events[2].At, replay[0].At)
	require.Equal(t, pub.events[3].At, replay[1].At)
	for i := 1; i < len(replay); i++ {
		require.True(t, replay[i].At.After(replay[i-1].At))
	}
}
