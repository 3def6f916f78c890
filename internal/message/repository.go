package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealchat/internal/crypto"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const envelopeColumns = `id, conversation_id, sender_user_id, sender_device_id, message_id,
	cipher_text, attachment_url, attachment_meta, read_at, viewed_by, created_at`

// Append inserts the envelope, relying on the (conversation_id, message_id)
// unique constraint for idempotency: concurrent duplicate submissions
// produce exactly one row and every caller observes that row. Never
// check-then-write.
func (r *Repository) Append(ctx context.Context, env *Envelope) (*Envelope, bool, error) {
	meta, err := marshalMeta(env.AttachmentMeta)
	if err != nil {
		return nil, false, err
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO envelopes (id, conversation_id, sender_user_id, sender_device_id, message_id, cipher_text, attachment_url, attachment_meta)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (conversation_id, message_id) DO NOTHING
		RETURNING created_at
	`, env.ID, env.ConversationID, env.SenderUserID, env.SenderDeviceID,
		env.MessageID, env.CipherText, env.AttachmentURL, meta,
	).Scan(&env.CreatedAt)

	if err == nil {
		env.ViewedBy = []int64{}
		return env, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// Conflict: a row already exists for this idempotency key. Return it
	// unchanged; the caller gets the prior result and no side effects run.
	existing, err := r.getByKey(ctx, env.ConversationID, env.MessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Envelope, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes WHERE id = $1`, id))
}

func (r *Repository) getByKey(ctx context.Context, conversationID uuid.UUID, messageID string) (*Envelope, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes WHERE conversation_id = $1 AND message_id = $2`,
		conversationID, messageID))
}

// EnvelopesSince returns envelopes with created_at strictly greater than
// since, ascending. A zero since returns the whole log.
func (r *Repository) EnvelopesSince(ctx context.Context, conversationID uuid.UUID, since time.Time) ([]*Envelope, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+envelopeColumns+`
		FROM envelopes
		WHERE conversation_id = $1 AND created_at > $2
		ORDER BY created_at ASC
	`, conversationID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envelopes []*Envelope
	for rows.Next() {
		env, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, rows.Err()
}

// PurgeExpired deletes envelopes of ephemeral conversations whose age
// exceeds the conversation's retention duration, read or not.
func (r *Repository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM envelopes e
		USING conversations c
		WHERE e.conversation_id = c.id
		  AND c.ephemeral_mode
		  AND c.ephemeral_ttl_seconds > 0
		  AND e.created_at < now() - make_interval(secs => c.ephemeral_ttl_seconds)
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) scanOne(row pgx.Row) (*Envelope, error) {
	env := &Envelope{}
	var attachmentURL *string
	var metaRaw []byte
	err := row.Scan(
		&env.ID, &env.ConversationID, &env.SenderUserID, &env.SenderDeviceID,
		&env.MessageID, &env.CipherText, &attachmentURL, &metaRaw,
		&env.ReadAt, &env.ViewedBy, &env.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if attachmentURL != nil {
		env.AttachmentURL = *attachmentURL
	}
	if len(metaRaw) > 0 {
		meta := &crypto.Meta{}
		if err := json.Unmarshal(metaRaw, meta); err != nil {
			return nil, fmt.Errorf("decode attachment meta: %w", err)
		}
		env.AttachmentMeta = meta
	}
	if env.ViewedBy == nil {
		env.ViewedBy = []int64{}
	}
	return env, nil
}

func marshalMeta(meta *crypto.Meta) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}
