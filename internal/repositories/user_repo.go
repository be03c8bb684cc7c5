package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/jackc/pgx/v5"
)

const userColumns = `u.id, u.name, u.email, u.password_hash, u.role, u.phone, u.notification_enabled,
	u.email_verified_at, u.two_factor_authentication_enabled, u.two_factor_authentication_secret,
	u.avatar_id, u.oauth_provider, u.oauth_provider_id,
	u.created_at, u.updated_at, u.deactivated_at, u.deleted_at`

// UserSchema maps the user listing fields clients may address to columns.
var UserSchema = database.Schema{
	"id":               database.UUID("u.id"),
	"name":             database.Text("u.name"),
	"email":            database.Text("u.email"),
	"role":             database.Text("u.role"),
	"phone":            database.Text("u.phone"),
	"emailVerifiedAt":  database.Timestamp("u.email_verified_at"),
	"deactivatedAt":    database.Timestamp("u.deactivated_at"),
	"createdAt":        database.Timestamp("u.created_at"),
	"updatedAt":        database.Timestamp("u.updated_at"),
	"avatar.createdAt": database.Timestamp("a.created_at"),
}

type UserRepository struct {
	db database.Querier
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db.Pool}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Phone, &u.NotificationEnabled,
		&u.EmailVerifiedAt, &u.TwoFactorEnabled, &u.TwoFactorSecret,
		&u.AvatarID, &u.OAuthProvider, &u.OAuthProviderID,
		&u.CreatedAt, &u.UpdatedAt, &u.DeactivatedAt, &u.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) one(ctx context.Context, op, sql string, args ...any) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, database.MapPostgresError(op, err)
	}
	return user, nil
}

// GetByID returns a user that has not been soft deleted.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.one(ctx, "get user",
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1 AND u.deleted_at IS NULL`, id)
}

// GetByEmail matches case-insensitively and ignores soft deleted users.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.one(ctx, "get user by email",
		`SELECT `+userColumns+` FROM users u WHERE LOWER(u.email) = LOWER($1) AND u.deleted_at IS NULL`, email)
}

func (r *UserRepository) GetByOAuth(ctx context.Context, provider, providerID string) (*models.User, error) {
	return r.one(ctx, "get user by oauth",
		`SELECT `+userColumns+` FROM users u
		WHERE u.oauth_provider = $1 AND u.oauth_provider_id = $2 AND u.deleted_at IS NULL`,
		provider, providerID)
}

// Create inserts user and returns the stored row. A taken email maps to models.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	return r.one(ctx, "create user", `
		INSERT INTO users AS u (name, email, password_hash, role, phone, notification_enabled,
			email_verified_at, avatar_id, oauth_provider, oauth_provider_id)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8, $9)
		RETURNING `+userColumns,
		user.Name, user.Email, user.PasswordHash, user.Role, user.Phone,
		user.EmailVerifiedAt, user.AvatarID, user.OAuthProvider, user.OAuthProviderID,
	)
}

func (r *UserRepository) exec(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return database.MapPostgresError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.exec(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, passwordHash)
}

// SetTwoFactor stores the TOTP secret and the enabled flag together.
func (r *UserRepository) SetTwoFactor(ctx context.Context, id string, secret *string, enabled bool) error {
	return r.exec(ctx, "set two factor", `
		UPDATE users SET two_factor_authentication_secret = $2, two_factor_authentication_enabled = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, secret, enabled)
}

func (r *UserRepository) SetNotificationEnabled(ctx context.Context, id string, enabled bool) error {
	return r.exec(ctx, "set notifications",
		`UPDATE users SET notification_enabled = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, enabled)
}

func (r *UserRepository) SetAvatar(ctx context.Context, id string, attachmentID *string) error {
	return r.exec(ctx, "set avatar",
		`UPDATE users SET avatar_id = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, attachmentID)
}

// LinkOAuth attaches a provider identity to an existing account and marks its
// email verified, since the provider vouched for it.
func (r *UserRepository) LinkOAuth(ctx context.Context, id, provider, providerID string) (*models.User, error) {
	return r.one(ctx, "link oauth", `
		UPDATE users AS u SET oauth_provider = $2, oauth_provider_id = $3,
			email_verified_at = COALESCE(u.email_verified_at, NOW()), updated_at = NOW()
		WHERE u.id = $1 AND u.deleted_at IS NULL
		RETURNING `+userColumns,
		id, provider, providerID)
}

// SetDeactivated deactivates the user when at is non-nil and reactivates it otherwise.
func (r *UserRepository) SetDeactivated(ctx context.Context, id string, at *time.Time) (*models.User, error) {
	return r.one(ctx, "set deactivated", `
		UPDATE users AS u SET deactivated_at = $2, updated_at = NOW()
		WHERE u.id = $1 AND u.deleted_at IS NULL
		RETURNING `+userColumns,
		id, at)
}

func (r *UserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "delete user",
		`UPDATE users SET deleted_at = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, at)
}

// ApplyPatch writes the non-nil fields of patch inside q, which is normally
// the transaction that consumed a security action.
func ApplyPatch(ctx context.Context, q database.Querier, userID string, patch models.UserPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	tag, err := q.Exec(ctx, `
		UPDATE users SET
			email_verified_at = COALESCE($2, email_verified_at),
			password_hash = COALESCE($3, password_hash),
			email = COALESCE($4, email),
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		userID, patch.EmailVerifiedAt, patch.PasswordHash, patch.Email)
	if err != nil {
		return database.MapPostgresError("patch user", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

var userListing = database.Listing{
	Columns: userColumns,
	From:    "users u LEFT JOIN attachments a ON a.id = u.avatar_id",
	Scope:   "u.deleted_at IS NULL",
	Schema:  UserSchema,
}

// CountAndFetch implements query.Finder for the admin user listing.
func (r *UserRepository) CountAndFetch(ctx context.Context, opts query.FindOptions) ([]*models.User, int, error) {
	return database.FetchPage(ctx, r.db, userListing, opts, func(row pgx.Row) (*models.User, error) {
		return scanUser(row)
	})
}
