package models

import (
	"encoding/json"
	"time"
)

type UserNotification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Title     string          `json:"title"`
	Content   *string         `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Type      string          `json:"type"`
	Topic     *string         `json:"topic"`
	ReadAt    *time.Time      `json:"readAt"`
	CreatedAt time.Time       `json:"createdAt"`
}
