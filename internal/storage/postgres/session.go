package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cloud-kitchen/internal/domain/auth"
)

const (
	findSessionSQL = `SELECT s.token_hash, u.id, u.email
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND (s.expires_at IS NULL OR s.expires_at > NOW())`

	upsertUserSQL = `INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`

	upsertSessionSQL = `INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`
)

var _ auth.Repository = (*SessionRepository)(nil)

// SessionRepository resolves bearer-token sessions backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// FindByHash looks up an unexpired session by its HMAC-SHA256 token hash.
// Returns auth.ErrSessionNotFound when no session matches.
func (r *SessionRepository) FindByHash(ctx context.Context, hash string) (*auth.Session, error) {
	var s auth.Session
	err := r.pool.QueryRow(ctx, findSessionSQL, hash).Scan(&s.TokenHash, &s.User.ID, &s.User.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("finding session by hash: %w", err)
	}
	return &s, nil
}

// Upsert stores u and a session for it identified by tokenHash. A zero
// expiresAt never expires.
func (r *SessionRepository) Upsert(ctx context.Context, u auth.User, tokenHash string, expiresAt time.Time) error {
	var expires *time.Time
	if !expiresAt.IsZero() {
		expires = &expiresAt
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertUserSQL, u.ID, u.Email); err != nil {
			return fmt.Errorf("upserting user %q: %w", u.ID, err)
		}
		if _, err := tx.Exec(ctx, upsertSessionSQL, tokenHash, u.ID, expires); err != nil {
			return fmt.Errorf("upserting session for %q: %w", u.ID, err)
		}
		return nil
	})
}
