package repositories

import (
	"context"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

const adminColumns = `id, name, email, password_hash, role, suspended_at, created_at, updated_at`

type AdminRepository struct {
	db database.Querier
}

func NewAdminRepository(db *database.DB) *AdminRepository {
	return &AdminRepository{db: db.Pool}
}

func scanAdmin(row rowScanner) (*models.Admin, error) {
	var a models.Admin
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Role,
		&a.SuspendedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AdminRepository) GetByID(ctx context.Context, id string) (*models.Admin, error) {
	admin, err := scanAdmin(r.db.QueryRow(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE id = $1`, id))
	if err != nil {
		return nil, database.MapPostgresError("get admin", err)
	}
	return admin, nil
}

func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	admin, err := scanAdmin(r.db.QueryRow(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil {
		return nil, database.MapPostgresError("get admin by email", err)
	}
	return admin, nil
}

// CreateIfMissing inserts admin unless one with the same email exists. It
// reports whether a row was created.
func (r *AdminRepository) CreateIfMissing(ctx context.Context, admin *models.Admin) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO admins (name, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (LOWER(email)) DO NOTHING`,
		admin.Name, admin.Email, admin.PasswordHash, admin.Role)
	if err != nil {
		return false, database.MapPostgresError("create admin", err)
	}
	return tag.RowsAffected() > 0, nil
}
