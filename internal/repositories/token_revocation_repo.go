package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
)

type TokenRevocationRepository struct {
	db database.Querier
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{db: db.Pool}
}

// RevokeToken blacklists jti until the token would have expired anyway.
// Revoking the same token twice is not an error.
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, jti, subjectID, audience, reason string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO revoked_tokens (jti, subject_id, audience, reason, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING`,
		jti, subjectID, audience, reason, expiresAt)
	return database.MapPostgresError("revoke token", err)
}

// IsTokenRevoked checks if a token is in the revocation blacklist
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError("check revoked token", err)
	}
	return exists, nil
}

// CleanupExpiredTokens removes entries whose tokens have expired on their own.
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, database.MapPostgresError("cleanup revoked tokens", err)
	}
	return tag.RowsAffected(), nil
}
