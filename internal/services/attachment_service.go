package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/BradenHooton/gatekeeper/internal/media"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/BradenHooton/gatekeeper/internal/storage"
)

// ObjectStore is the private bucket
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*storage.Object, error)
	PresignGet(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// AttachmentRepository defines the interface for attachment rows
type AttachmentRepository interface {
	query.Finder[*models.Attachment]
	Create(ctx context.Context, key string, thumbnailKey *string) (*models.Attachment, error)
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
}

// RemoteFetcher downloads a remote file
type RemoteFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// AttachmentListing is what admins may filter and sort attachments on.
var AttachmentListing = query.Options{
	Filterable: query.FilterSpec{
		"createdAt": query.Allow(query.OpGte, query.OpLte, query.OpBetween),
	},
	Sortable: []string{"createdAt", "updatedAt"},
}

const attachmentPrefix = "attachments"

// Upload describes a file received from a client.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
	MaxSize     int64
}

// AttachmentService stores private files and hands out presigned URLs.
type AttachmentService struct {
	repo    AttachmentRepository
	store   ObjectStore
	fetcher RemoteFetcher
	logger  *slog.Logger
}

// NewAttachmentService creates a new AttachmentService
func NewAttachmentService(repo AttachmentRepository, store ObjectStore, fetcher RemoteFetcher, logger *slog.Logger) *AttachmentService {
	return &AttachmentService{repo: repo, store: store, fetcher: fetcher, logger: logger}
}

// Upload stores the file, a thumbnail when it is an image, and the row that
// references both.
func (s *AttachmentService) Upload(ctx context.Context, up Upload) (*models.SignedAttachment, error) {
	reader := up.Body
	if up.MaxSize > 0 {
		reader = io.LimitReader(up.Body, up.MaxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, models.Infra("read upload", err)
	}
	if up.MaxSize > 0 && int64(len(data)) > up.MaxSize {
		return nil, models.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", up.MaxSize))
	}
	if len(data) == 0 {
		return nil, models.NewValidationError("file", "file is empty")
	}

	return s.save(ctx, up.FileName, up.ContentType, data)
}

// ImportRemote copies a remote picture, such as an OAuth profile photo, into
// the private bucket.
func (s *AttachmentService) ImportRemote(ctx context.Context, url string) (*models.Attachment, error) {
	data, contentType, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	signed, err := s.save(ctx, path.Base(url), contentType, data)
	if err != nil {
		return nil, err
	}
	return &signed.Attachment, nil
}

func (s *AttachmentService) save(ctx context.Context, fileName, contentType string, data []byte) (*models.SignedAttachment, error) {
	contentType = media.NormalizeContentType(contentType, fileName)
	key := storage.ObjectKey(attachmentPrefix, fileName)

	if _, err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, models.Infra("store object", err)
	}

	var thumbKey *string
	if media.IsImage(contentType, fileName) {
		thumbKey = s.storeThumbnail(ctx, key, data)
	}

	attachment, err := s.repo.Create(ctx, key, thumbKey)
	if err != nil {
		s.discard(ctx, key, thumbKey)
		return nil, models.Infra("create attachment", err)
	}
	return s.sign(ctx, attachment)
}

// storeThumbnail is best effort; an image that cannot be decoded is stored
// without one.
func (s *AttachmentService) storeThumbnail(ctx context.Context, key string, data []byte) *string {
	thumb, err := media.Thumbnail(bytes.NewReader(data), media.ThumbnailSize)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, media.ErrUnsupportedImage) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "thumbnail skipped", slog.String("key", key), slog.Any("error", err))
		return nil
	}

	thumbKey := storage.ThumbnailKey(key)
	if _, err := s.store.Put(ctx, thumbKey, bytes.NewReader(thumb), int64(len(thumb)), media.ThumbnailMediaType); err != nil {
		s.logger.Warn("failed to store thumbnail", slog.String("key", thumbKey), slog.Any("error", err))
		return nil
	}
	return &thumbKey
}

func (s *AttachmentService) discard(ctx context.Context, key string, thumbKey *string) {
	keys := []string{key}
	if thumbKey != nil {
		keys = append(keys, *thumbKey)
	}
	for _, k := range keys {
		if err := s.store.Remove(context.WithoutCancel(ctx), k); err != nil {
			s.logger.Warn("failed to remove orphaned object", slog.String("key", k), slog.Any("error", err))
		}
	}
}

// Get returns the attachment with fresh presigned URLs.
func (s *AttachmentService) Get(ctx context.Context, id string) (*models.SignedAttachment, error) {
	attachment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, models.Infra("get attachment", err)
	}
	return s.sign(ctx, attachment)
}

// List pages through attachments, signing every row.
func (s *AttachmentService) List(ctx context.Context, req query.Request) (*query.Page[*models.SignedAttachment], error) {
	page, err := query.FindAndPaginate(ctx, s.repo, nil, nil, AttachmentListing, req)
	if err != nil {
		return nil, models.Infra("list attachments", err)
	}

	signed := make([]*models.SignedAttachment, 0, len(page.Items))
	for _, a := range page.Items {
		sa, err := s.sign(ctx, a)
		if err != nil {
			return nil, err
		}
		signed = append(signed, sa)
	}
	return &query.Page[*models.SignedAttachment]{Items: signed, Meta: page.Meta}, nil
}

func (s *AttachmentService) sign(ctx context.Context, a *models.Attachment) (*models.SignedAttachment, error) {
	url, err := s.store.PresignGet(ctx, a.URL)
	if err != nil {
		return nil, models.Infra("presign attachment", err)
	}
	signed := &models.SignedAttachment{Attachment: *a, SignedURL: url}
	if a.ThumbnailURL != nil {
		thumb, err := s.store.PresignGet(ctx, *a.ThumbnailURL)
		if err != nil {
			return nil, models.Infra("presign thumbnail", err)
		}
		signed.SignedThumbnailURL = thumb
	}
	return signed, nil
}
