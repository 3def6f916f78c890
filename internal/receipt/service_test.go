package receipt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sealchat/internal/conversation"
	"sealchat/internal/fanout"
	"sealchat/internal/message"
)

type envRow struct {
	id             uuid.UUID
	conversationID uuid.UUID
	senderID       int64
	readAt         *time.Time
	viewedBy       []int64
}

// memoryStore implements Store with the same monotonic and transactional
// guards the SQL has: MarkRead either stamps rows and moves the cursor
// together or does neither.
type memoryStore struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*envRow
	cursors  map[string]time.Time
	failNext error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rows:    make(map[uuid.UUID]*envRow),
		cursors: make(map[string]time.Time),
	}
}

func (m *memoryStore) addEnvelope(conversationID uuid.UUID, senderID int64) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.rows[id] = &envRow{id: id, conversationID: conversationID, senderID: senderID, viewedBy: []int64{}}
	return id
}

func (m *memoryStore) MarkRead(_ context.Context, conversationID uuid.UUID, readerID int64, readAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return 0, err
	}
	var updated int64
	for _, row := range m.rows {
		if row.conversationID == conversationID && row.senderID != readerID && row.readAt == nil {
			at := readAt
			row.readAt = &at
			updated++
		}
	}
	k := cursorKey(conversationID, readerID)
	if existing, ok := m.cursors[k]; !ok || readAt.After(existing) {
		m.cursors[k] = readAt
	}
	return updated, nil
}

func (m *memoryStore) Cursor(_ context.Context, conversationID uuid.UUID, readerID int64) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[cursorKey(conversationID, readerID)], nil
}

func (m *memoryStore) ViewTarget(_ context.Context, envelopeID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[envelopeID]
	if !ok {
		return uuid.Nil, message.ErrNotFound
	}
	return row.conversationID, nil
}

func (m *memoryStore) AddViewer(_ context.Context, envelopeID uuid.UUID, viewerID int64) (uuid.UUID, []int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[envelopeID]
	if !ok {
		return uuid.Nil, nil, false, message.ErrNotFound
	}
	for _, id := range row.viewedBy {
		if id == viewerID {
			return row.conversationID, append([]int64(nil), row.viewedBy...), false, nil
		}
	}
	row.viewedBy = append(row.viewedBy, viewerID)
	return row.conversationID, append([]int64(nil), row.viewedBy...), true, nil
}

func cursorKey(conversationID uuid.UUID, readerID int64) string {
	return fmt.Sprintf("%s/%d", conversationID, readerID)
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

func (p *recordingPublisher) byType(t fanout.EventType) []fanout.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []fanout.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestService(t *testing.T, convID uuid.UUID, participants ...int64) (*Service, *memoryStore, *recordingPublisher) {
	t.Helper()
	store := newMemoryStore()
	pub := &recordingPublisher{}
	members := &staticMembers{members: map[uuid.UUID][]int64{convID: participants}}
	return NewService(store, members, pub, zerolog.Nop()), store, pub
}

func TestMarkReadIsBulkAndIdempotent(t *testing.T) {
	convID := uuid.New()
	svc, store, pub := newTestService(t, convID, 1, 2)
	ctx := context.Background()

	// Two unread from user 1 plus one of the reader's own.
	store.addEnvelope(convID, 1)
	store.addEnvelope(convID, 1)
	store.addEnvelope(convID, 2)

	updated, err := svc.MarkRead(ctx, convID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated)

	// Only envelopes from other senders were stamped.
	for _, row := range store.rows {
		if row.senderID == 2 {
			require.Nil(t, row.readAt)
		} else {
			require.NotNil(t, row.readAt)
		}
	}

	// Repeat call: zero rows, no error, no second event.
	updated, err = svc.MarkRead(ctx, convID, 2)
	require.NoError(t, err)
	require.Zero(t, updated)
	require.Len(t, pub.byType(fanout.EventMessagesRead), 1)
}

func TestMarkReadFailureLeavesNoPartialState(t *testing.T) {
	convID := uuid.New()
	svc, store, pub := newTestService(t, convID, 1, 2)
	ctx := context.Background()

	store.addEnvelope(convID, 1)
	store.addEnvelope(convID, 1)

	// A storage failure rolls everything back: no stamped rows, no event.
	store.failNext = errors.New("cursor write failed")
	_, err := svc.MarkRead(ctx, convID, 2)
	require.Error(t, err)
	for _, row := range store.rows {
		require.Nil(t, row.readAt)
	}
	require.Empty(t, pub.byType(fanout.EventMessagesRead))

	// The retry therefore still sees the rows as unread and emits the
	// event subscribers were owed.
	updated, err := svc.MarkRead(ctx, convID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated)
	require.Len(t, pub.byType(fanout.EventMessagesRead), 1)
}

func TestMarkReadRequiresMembership(t *testing.T) {
	convID := uuid.New()
	svc, _, _ := newTestService(t, convID, 1, 2)

	_, err := svc.MarkRead(context.Background(), convID, 99)
	require.ErrorIs(t, err, conversation.ErrNotParticipant)
}

func TestCursorIsMonotonic(t *testing.T) {
	convID := uuid.New()
	svc, store, _ := newTestService(t, convID, 1, 2)
	ctx := context.Background()

	times := []time.Time{
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), // earlier: must not regress
		time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}
	i := 0
	svc.now = func() time.Time { t := times[i]; i++; return t }

	for range times {
		store.addEnvelope(convID, 1)
		_, err := svc.MarkRead(ctx, convID, 2)
		require.NoError(t, err)
	}

	cursor, err := svc.LastReadAt(ctx, convID, 2)
	require.NoError(t, err)
	require.Equal(t, times[2], cursor)
}

func TestMarkViewedIsIdempotent(t *testing.T) {
	convID := uuid.New()
	svc, store, pub := newTestService(t, convID, 1, 2)
	ctx := context.Background()
	env := store.addEnvelope(convID, 1)

	viewedBy, err := svc.MarkViewed(ctx, env, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, viewedBy)

	// Second view from the same user: exactly one entry, no second event.
	viewedBy, err = svc.MarkViewed(ctx, env, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, viewedBy)
	require.Len(t, pub.byType(fanout.EventMessageViewed), 1)
}

func TestMarkViewedDoesNotTouchReadState(t *testing.T) {
	convID := uuid.New()
	svc, store, _ := newTestService(t, convID, 1, 2)
	env := store.addEnvelope(convID, 1)

	_, err := svc.MarkViewed(context.Background(), env, 2)
	require.NoError(t, err)
	require.Nil(t, store.rows[env].readAt, "viewing must not imply reading")
}

func TestMarkViewedUnknownMessage(t *testing.T) {
	convID := uuid.New()
	svc, _, _ := newTestService(t, convID, 1, 2)

	_, err := svc.MarkViewed(context.Background(), uuid.New(), 1)
	require.ErrorIs(t, err, message.ErrNotFound)
}

func TestMarkViewedRequiresMembership(t *testing.T) {
	convID := uuid.New()
	svc, store, _ := newTestService(t, convID, 1, 2)
	env := store.addEnvelope(convID, 1)

	_, err := svc.MarkViewed(context.Background(), env, 99)
	require.ErrorIs(t, err, conversation.ErrNotParticipant)
	require.Empty(t, store.rows[env].viewedBy, "unauthorized view must not mutate")
}
