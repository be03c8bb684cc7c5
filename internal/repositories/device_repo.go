package repositories

import (
	"context"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

type DeviceRepository struct {
	db database.Querier
}

func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db.Pool}
}

// Upsert registers deviceID for the user, refreshing the push token when the
// device is already known.
func (r *DeviceRepository) Upsert(ctx context.Context, userID, deviceID string, fcmToken *string) (*models.UserDevice, error) {
	var d models.UserDevice
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_devices (user_id, device_id, fcm_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, device_id)
		DO UPDATE SET fcm_token = COALESCE(EXCLUDED.fcm_token, user_devices.fcm_token), updated_at = NOW()
		RETURNING id, user_id, device_id, fcm_token, created_at, updated_at`,
		userID, deviceID, fcmToken,
	).Scan(&d.ID, &d.UserID, &d.DeviceID, &d.FCMToken, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError("upsert device", err)
	}
	return &d, nil
}

func (r *DeviceRepository) Delete(ctx context.Context, userID, deviceID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM user_devices WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	return database.MapPostgresError("delete device", err)
}

func (r *DeviceRepository) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_devices WHERE user_id = $1`, userID)
	return database.MapPostgresError("delete devices", err)
}
