package repositories

import (
	"context"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/jackc/pgx/v5"
)

const attachmentColumns = `t.id, t.url, t.thumbnail_url, t.deleted_at, t.created_at, t.updated_at`

var AttachmentSchema = database.Schema{
	"id":        database.UUID("t.id"),
	"createdAt": database.Timestamp("t.created_at"),
	"updatedAt": database.Timestamp("t.updated_at"),
}

type AttachmentRepository struct {
	db database.Querier
}

func NewAttachmentRepository(db *database.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db.Pool}
}

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	var a models.Attachment
	if err := row.Scan(&a.ID, &a.URL, &a.ThumbnailURL, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttachmentRepository) Create(ctx context.Context, key string, thumbnailKey *string) (*models.Attachment, error) {
	a, err := scanAttachment(r.db.QueryRow(ctx, `
		INSERT INTO attachments AS t (url, thumbnail_url) VALUES ($1, $2)
		RETURNING `+attachmentColumns, key, thumbnailKey))
	if err != nil {
		return nil, database.MapPostgresError("create attachment", err)
	}
	return a, nil
}

func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	a, err := scanAttachment(r.db.QueryRow(ctx,
		`SELECT `+attachmentColumns+` FROM attachments t WHERE t.id = $1 AND t.deleted_at IS NULL`, id))
	if err != nil {
		return nil, database.MapPostgresError("get attachment", err)
	}
	return a, nil
}

var attachmentListing = database.Listing{
	Columns: attachmentColumns,
	From:    "attachments t",
	Scope:   "t.deleted_at IS NULL",
	Schema:  AttachmentSchema,
}

func (r *AttachmentRepository) CountAndFetch(ctx context.Context, opts query.FindOptions) ([]*models.Attachment, int, error) {
	return database.FetchPage(ctx, r.db, attachmentListing, opts, func(row pgx.Row) (*models.Attachment, error) {
		return scanAttachment(row)
	})
}
