package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealchat/internal/message"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MarkRead stamps readAt on every unread envelope from other senders and
// moves the reader's cursor forward, never backward. Both statements
// commit in one transaction: a failure rolls back the stamps too, so no
// rows end up read without the cursor reflecting it. readAt is monotonic:
// rows already stamped are untouched, so a repeat call updates zero rows.
func (r *Repository) MarkRead(ctx context.Context, conversationID uuid.UUID, readerID int64, readAt time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE envelopes
		SET read_at = $3
		WHERE conversation_id = $1
		  AND sender_user_id <> $2
		  AND read_at IS NULL
	`, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO receipt_cursors (conversation_id, user_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET last_read_at = GREATEST(receipt_cursors.last_read_at, EXCLUDED.last_read_at)
	`, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Cursor returns the reader's lastReadAt, or the zero time when no cursor
// exists yet.
func (r *Repository) Cursor(ctx context.Context, conversationID uuid.UUID, readerID int64) (time.Time, error) {
	var lastReadAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT last_read_at FROM receipt_cursors
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, readerID).Scan(&lastReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return lastReadAt, err
}

// ViewTarget resolves the owning conversation of an envelope so membership
// can be checked before any mutation.
func (r *Repository) ViewTarget(ctx context.Context, envelopeID uuid.UUID) (uuid.UUID, error) {
	var conversationID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT conversation_id FROM envelopes WHERE id = $1
	`, envelopeID).Scan(&conversationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, message.ErrNotFound
	}
	return conversationID, err
}

// AddViewer appends the viewer to the envelope's viewed set if absent. The
// guard lives in the statement itself, so concurrent calls cannot produce
// a duplicate entry.
func (r *Repository) AddViewer(ctx context.Context, envelopeID uuid.UUID, viewerID int64) (uuid.UUID, []int64, bool, error) {
	var conversationID uuid.UUID
	var viewedBy []int64

	err := r.pool.QueryRow(ctx, `
		UPDATE envelopes
		SET viewed_by = array_append(viewed_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(viewed_by))
		RETURNING conversation_id, viewed_by
	`, envelopeID, viewerID).Scan(&conversationID, &viewedBy)
	if err == nil {
		return conversationID, viewedBy, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil, false, err
	}

	// Either the envelope does not exist or the viewer is already present.
	err = r.pool.QueryRow(ctx, `
		SELECT conversation_id, viewed_by FROM envelopes WHERE id = $1
	`, envelopeID).Scan(&conversationID, &viewedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil, false, message.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, nil, false, err
	}
	return conversationID, viewedBy, false, nil
}
