package models

import "time"

// Attachment is a private object stored in the blob store. URL holds the object key;
// clients only ever see presigned URLs.
type Attachment struct {
	ID           string     `json:"id"`
	URL          string     `json:"-"`
	ThumbnailURL *string    `json:"-"`
	DeletedAt    *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// SignedAttachment pairs an attachment with short lived download URLs.
type SignedAttachment struct {
	Attachment
	SignedURL          string `json:"url"`
	SignedThumbnailURL string `json:"thumbnailUrl,omitempty"`
}
