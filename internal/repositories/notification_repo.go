package repositories

import (
	"context"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/jackc/pgx/v5"
)

const notificationColumns = `n.id, n.user_id, n.title, n.content, n.metadata, n.type, n.topic, n.read_at, n.created_at`

var NotificationSchema = database.Schema{
	"title":     database.Text("n.title"),
	"type":      database.Text("n.type"),
	"topic":     database.Text("n.topic"),
	"readAt":    database.Timestamp("n.read_at"),
	"createdAt": database.Timestamp("n.created_at"),
}

type NotificationRepository struct {
	db database.Querier
}

func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db.Pool}
}

func scanNotification(row rowScanner) (*models.UserNotification, error) {
	var n models.UserNotification
	var metadata []byte
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &metadata, &n.Type, &n.Topic,
		&n.ReadAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Metadata = metadata
	return &n, nil
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.UserNotification) (*models.UserNotification, error) {
	var metadata []byte
	if len(n.Metadata) > 0 {
		metadata = n.Metadata
	}
	created, err := scanNotification(r.db.QueryRow(ctx, `
		INSERT INTO user_notifications AS n (user_id, title, content, metadata, type, topic)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+notificationColumns,
		n.UserID, n.Title, n.Content, metadata, n.Type, n.Topic))
	if err != nil {
		return nil, database.MapPostgresError("create notification", err)
	}
	return created, nil
}

// ForUser returns a Finder over the user's own, not deleted notifications.
func (r *NotificationRepository) ForUser(userID string) query.Finder[*models.UserNotification] {
	listing := database.Listing{
		Columns:   notificationColumns,
		From:      "user_notifications n",
		Scope:     "n.user_id = $1 AND n.deleted_at IS NULL",
		ScopeArgs: []any{userID},
		Schema:    NotificationSchema,
	}
	return query.FinderFunc[*models.UserNotification](func(ctx context.Context, opts query.FindOptions) ([]*models.UserNotification, int, error) {
		return database.FetchPage(ctx, r.db, listing, opts, func(row pgx.Row) (*models.UserNotification, error) {
			return scanNotification(row)
		})
	})
}
