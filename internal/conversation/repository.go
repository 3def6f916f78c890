package conversation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealchat/internal/db"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, c *Conversation) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, participant_key, participant_a, participant_b, ephemeral_mode, ephemeral_ttl_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, ParticipantKey(c.Participants[0], c.Participants[1]),
		c.Participants[0], c.Participants[1], c.EphemeralMode, c.EphemeralTTL,
	).Scan(&c.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT id, participant_a, participant_b, ephemeral_mode, ephemeral_ttl_seconds, created_at
		FROM conversations WHERE id = $1
	`, id))
}

func (r *Repository) GetByKey(ctx context.Context, key string) (*Conversation, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT id, participant_a, participant_b, ephemeral_mode, ephemeral_ttl_seconds, created_at
		FROM conversations WHERE participant_key = $1
	`, key))
}

func (r *Repository) UpdateEphemeral(ctx context.Context, id uuid.UUID, policy EphemeralPolicy) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversations SET ephemeral_mode = $2, ephemeral_ttl_seconds = $3 WHERE id = $1
	`, id, policy.Mode, policy.DurationSeconds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the conversation row; envelopes and receipt cursors go
// with it through the cascading foreign keys.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*Conversation, error) {
	c := &Conversation{}
	err := row.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.EphemeralMode, &c.EphemeralTTL, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}
