package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Database wraps the pgx connection pool so feature repositories share one pool.
type Database struct {
	Pool *pgxpool.Pool
}

func NewDatabase(ctx context.Context, databaseURL string) (*Database, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Database{Pool: pool}, nil
}

func (d *Database) Close() {
	d.Pool.Close()
}

// AutoMigrate creates the schema if it does not exist yet.
// Cascading foreign keys implement conversation delete: removing a
// conversation removes its envelopes and receipt cursors in one statement.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id UUID PRIMARY KEY,
            participant_key TEXT UNIQUE NOT NULL,
            participant_a BIGINT NOT NULL,
            participant_b BIGINT NOT NULL,
            ephemeral_mode BOOLEAN NOT NULL DEFAULT FALSE,
            ephemeral_ttl_seconds BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE TABLE IF NOT EXISTS envelopes (
            id UUID PRIMARY KEY,
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_user_id BIGINT NOT NULL,
            sender_device_id TEXT NOT NULL,
            message_id TEXT NOT NULL,
            cipher_text TEXT NOT NULL,
            attachment_url TEXT,
            attachment_meta JSONB,
            read_at TIMESTAMPTZ,
            viewed_by BIGINT[] NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            UNIQUE (conversation_id, message_id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_envelopes_conv_created
            ON envelopes (conversation_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS receipt_cursors (
            conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            last_read_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (conversation_id, user_id)
        )`,
	}

	for _, query := range queries {
		if _, err := d.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsUnavailable reports whether err looks like a transient storage failure
// the caller may retry: connection problems, admin shutdown, resource
// exhaustion. Constraint and data errors are not retryable.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception, 53: insufficient resources,
		// 57: operator intervention (e.g. shutdown).
		for _, class := range []string{"08", "53", "57"} {
			if strings.HasPrefix(pgErr.Code, class) {
				return true
			}
		}
	}
	return false
}
