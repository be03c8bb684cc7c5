// Package storage keeps attachment objects in a private S3 compatible bucket.
// Objects are never public; clients receive presigned URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object is a finished upload.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

type Store struct {
	client     *minio.Client
	bucket     string
	region     string
	presignTTL time.Duration
	logger     *slog.Logger
}

// New connects to the configured endpoint. It does not touch the network.
func New(cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Store{
		client:     client,
		bucket:     cfg.PrivateBucket,
		region:     cfg.Region,
		presignTTL: ttl,
		logger:     logger,
	}, nil
}

// EnsureBucket creates the private bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("storage bucket created", slog.String("bucket", s.bucket))
	return nil
}

// Put uploads r under key. size may be -1 when unknown.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}
	return &Object{Key: info.Key, Size: info.Size, ContentType: contentType}, nil
}

// PresignGet returns a time limited download URL for key.
func (s *Store) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes key. Missing objects are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// ObjectKey builds a collision free key under prefix that keeps the
// extension of fileName.
func ObjectKey(prefix, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, `\`, "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " ?#%") {
		ext = ""
	}
	name := uuid.NewString() + ext
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// ThumbnailKey derives the thumbnail key stored next to key.
func ThumbnailKey(key string) string {
	dir, file := path.Split(key)
	return dir + "thumbnails/" + strings.TrimSuffix(file, path.Ext(file)) + ".png"
}
