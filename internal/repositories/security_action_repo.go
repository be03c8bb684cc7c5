package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
)

const securityActionColumns = `id, user_id, type, secret_hash, status, payload, expired_at, created_at, updated_at`

// Constraint names from the user_security_actions migration.
const (
	PendingActionConstraint = "user_security_actions_pending_key"
	ActionSecretConstraint  = "user_security_actions_secret_key"
)

// ErrActionCollision is returned by Replace when a concurrent issue or a
// secret collision violated one of the table's unique indexes.
var ErrActionCollision = errors.New("security action collided with an existing row")

// ActionEffect computes the user patch a consumed action applies. Returning an
// error rolls the consumption back.
type ActionEffect func(action *models.SecurityAction) (models.UserPatch, error)

type SecurityActionRepository struct {
	db *database.DB
}

func NewSecurityActionRepository(db *database.DB) *SecurityActionRepository {
	return &SecurityActionRepository{db: db}
}

func scanSecurityAction(row rowScanner) (*models.SecurityAction, error) {
	var a models.SecurityAction
	var payload []byte
	err := row.Scan(&a.ID, &a.UserID, &a.Type, &a.SecretHash, &a.Status, &payload,
		&a.ExpiredAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Payload = payload
	return &a, nil
}

// Replace deletes every PENDING action of the same user and type and inserts
// action in one transaction, so at most one live secret exists per purpose.
func (r *SecurityActionRepository) Replace(ctx context.Context, action *models.SecurityAction) (*models.SecurityAction, error) {
	var created *models.SecurityAction

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM user_security_actions WHERE user_id = $1 AND type = $2 AND status = 'PENDING'`,
			action.UserID, action.Type)
		if err != nil {
			return database.MapPostgresError("supersede security actions", err)
		}

		var payload []byte
		if len(action.Payload) > 0 {
			payload = action.Payload
		}

		created, err = scanSecurityAction(tx.QueryRow(ctx, `
			INSERT INTO user_security_actions (user_id, type, secret_hash, status, payload, expired_at, created_at, updated_at)
			VALUES ($1, $2, $3, 'PENDING', $4, $5, $6, $6)
			RETURNING `+securityActionColumns,
			action.UserID, action.Type, action.SecretHash, payload, action.ExpiredAt, action.CreatedAt,
		))
		if database.IsUniqueViolation(err, "") {
			return ErrActionCollision
		}
		if err != nil {
			return database.MapPostgresError("insert security action", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Consume marks the matching PENDING, unexpired action USED and applies the
// patch produced by effect, atomically. models.ErrNotFound means nothing matched.
func (r *SecurityActionRepository) Consume(
	ctx context.Context,
	userID string,
	actionType models.SecurityActionType,
	secretHash string,
	now time.Time,
	effect ActionEffect,
) (*models.SecurityAction, error) {
	var consumed *models.SecurityAction

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		consumed, err = scanSecurityAction(tx.QueryRow(ctx, `
			UPDATE user_security_actions SET status = 'USED', updated_at = $5
			WHERE user_id = $1 AND type = $2 AND secret_hash = $3
				AND status = 'PENDING' AND expired_at > $4
			RETURNING `+securityActionColumns,
			userID, actionType, secretHash, now, now,
		))
		if err != nil {
			return database.MapPostgresError("consume security action", err)
		}

		if effect == nil {
			return nil
		}
		patch, err := effect(consumed)
		if err != nil {
			return err
		}
		return ApplyPatch(ctx, tx, userID, patch)
	})
	if err != nil {
		return nil, err
	}

	return consumed, nil
}

// GetPending returns the live action for user and type, if any.
func (r *SecurityActionRepository) GetPending(ctx context.Context, userID string, actionType models.SecurityActionType) (*models.SecurityAction, error) {
	action, err := scanSecurityAction(r.db.Pool.QueryRow(ctx, `
		SELECT `+securityActionColumns+` FROM user_security_actions
		WHERE user_id = $1 AND type = $2 AND status = 'PENDING'`,
		userID, actionType))
	if err != nil {
		return nil, database.MapPostgresError("get pending security action", err)
	}
	return action, nil
}

// DeletePending removes the action only while it is still PENDING. Used or
// expired history is kept.
func (r *SecurityActionRepository) DeletePending(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM user_security_actions WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return false, database.MapPostgresError("delete security action", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireOverdue marks PENDING actions whose deadline passed as EXPIRED.
func (r *SecurityActionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE user_security_actions SET status = 'EXPIRED', updated_at = $1
		WHERE status = 'PENDING' AND expired_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError("expire security actions", err)
	}
	return tag.RowsAffected(), nil
}
