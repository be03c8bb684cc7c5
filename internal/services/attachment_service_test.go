package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/BradenHooton/gatekeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAttachmentService_Upload_ImageGetsThumbnail(t *testing.T) {
	store := &MockObjectStore{}
	var createdKey string
	var createdThumb *string
	repo := &MockAttachmentRepository{
		CreateFunc: func(ctx context.Context, key string, thumbKey *string) (*models.Attachment, error) {
			createdKey, createdThumb = key, thumbKey
			return &models.Attachment{ID: "att-1", URL: key, ThumbnailURL: thumbKey}, nil
		},
	}
	svc := NewAttachmentService(repo, store, &MockRemoteFetcher{}, testLogger)

	signed, err := svc.Upload(context.Background(), Upload{
		FileName: "Holiday.PNG",
		Body:     bytes.NewReader(testPNG(t, 800, 400)),
		MaxSize:  1 << 20,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(createdKey, "attachments/"))
	assert.True(t, strings.HasSuffix(createdKey, ".png"))
	require.NotNil(t, createdThumb)
	assert.Contains(t, *createdThumb, "thumbnails/")

	assert.Equal(t, "image/png", store.Types[createdKey])
	assert.Equal(t, "image/png", store.Types[*createdThumb])
	assert.Len(t, store.Objects, 2)

	assert.Equal(t, "att-1", signed.ID)
	assert.Contains(t, signed.SignedURL, createdKey)
	assert.Contains(t, signed.SignedThumbnailURL, *createdThumb)
}

func TestAttachmentService_Upload_DocumentHasNoThumbnail(t *testing.T) {
	store := &MockObjectStore{}
	svc := NewAttachmentService(&MockAttachmentRepository{}, store, &MockRemoteFetcher{}, testLogger)

	signed, err := svc.Upload(context.Background(), Upload{
		FileName:    "contract.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader("%PDF-1.7"),
	})
	require.NoError(t, err)
	assert.Empty(t, signed.SignedThumbnailURL)
	assert.Len(t, store.Objects, 1)
}

func TestAttachmentService_Upload_CorruptImageStoredWithoutThumbnail(t *testing.T) {
	store := &MockObjectStore{}
	svc := NewAttachmentService(&MockAttachmentRepository{}, store, &MockRemoteFetcher{}, testLogger)

	signed, err := svc.Upload(context.Background(), Upload{
		FileName:    "broken.png",
		ContentType: "image/png",
		Body:        strings.NewReader("not really a png"),
	})
	require.NoError(t, err)
	assert.Empty(t, signed.SignedThumbnailURL)
}

func TestAttachmentService_Upload_Rejections(t *testing.T) {
	svc := NewAttachmentService(&MockAttachmentRepository{}, &MockObjectStore{}, &MockRemoteFetcher{}, testLogger)

	_, err := svc.Upload(context.Background(), Upload{FileName: "big.bin", Body: strings.NewReader(strings.Repeat("x", 11)), MaxSize: 10})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file", verr.Field)

	_, err = svc.Upload(context.Background(), Upload{FileName: "empty.txt", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAttachmentService_Upload_RowFailureRemovesObjects(t *testing.T) {
	store := &MockObjectStore{}
	repo := &MockAttachmentRepository{
		CreateFunc: func(context.Context, string, *string) (*models.Attachment, error) {
			return nil, errors.New("insert failed")
		},
	}
	svc := NewAttachmentService(repo, store, &MockRemoteFetcher{}, testLogger)

	_, err := svc.Upload(context.Background(), Upload{FileName: "a.png", Body: bytes.NewReader(testPNG(t, 10, 10))})
	assert.ErrorIs(t, err, models.ErrInternalServer)
	assert.Len(t, store.Removed, 2)
}

func TestAttachmentService_Upload_StoreFailure(t *testing.T) {
	store := &MockObjectStore{
		PutFunc: func(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*storage.Object, error) {
			return nil, errors.New("bucket unavailable")
		},
	}
	repo := &MockAttachmentRepository{
		CreateFunc: func(context.Context, string, *string) (*models.Attachment, error) {
			t.Fatal("row must not be created without an object")
			return nil, nil
		},
	}
	svc := NewAttachmentService(repo, store, &MockRemoteFetcher{}, testLogger)

	_, err := svc.Upload(context.Background(), Upload{FileName: "a.txt", Body: strings.NewReader("hello")})
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestAttachmentService_ImportRemote(t *testing.T) {
	store := &MockObjectStore{}
	fetcher := &MockRemoteFetcher{
		FetchFunc: func(ctx context.Context, url string) ([]byte, string, error) {
			return testPNG(t, 96, 96), "image/png", nil
		},
	}
	svc := NewAttachmentService(&MockAttachmentRepository{}, store, fetcher, testLogger)

	attachment, err := svc.ImportRemote(context.Background(), "https://lh3.googleusercontent.com/a/photo")
	require.NoError(t, err)
	assert.Equal(t, "att-1", attachment.ID)
	assert.Len(t, store.Objects, 2)

	fetcher.FetchFunc = func(context.Context, string) ([]byte, string, error) { return nil, "", errors.New("404") }
	_, err = svc.ImportRemote(context.Background(), "https://example.com/missing.jpg")
	assert.Error(t, err)
}

func TestAttachmentService_GetAndList(t *testing.T) {
	thumb := "attachments/thumbnails/b.png"
	repo := &MockAttachmentRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Attachment, error) {
			if id != "att-1" {
				return nil, models.ErrNotFound
			}
			return &models.Attachment{ID: id, URL: "attachments/a.pdf"}, nil
		},
		CountAndFetchFunc: func(ctx context.Context, opts query.FindOptions) ([]*models.Attachment, int, error) {
			return []*models.Attachment{
				{ID: "att-1", URL: "attachments/a.pdf"},
				{ID: "att-2", URL: "attachments/b.png", ThumbnailURL: &thumb},
			}, 2, nil
		},
	}
	svc := NewAttachmentService(repo, &MockObjectStore{}, &MockRemoteFetcher{}, testLogger)

	got, err := svc.Get(context.Background(), "att-1")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.test/attachments/a.pdf?X-Amz-Signature=sig", got.SignedURL)

	_, err = svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)

	page, err := svc.List(context.Background(), query.NewRequest())
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Empty(t, page.Items[0].SignedThumbnailURL)
	assert.Equal(t, "https://bucket.test/"+thumb+"?X-Amz-Signature=sig", page.Items[1].SignedThumbnailURL)
	assert.Equal(t, 2, page.Meta.TotalItems)
}
