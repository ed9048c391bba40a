// Package archive keeps raw uploaded files in S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config locates the bucket. An empty Endpoint disables archiving.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Enabled reports whether an endpoint was configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Store writes objects into one bucket.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New returns a Store, or nil when archiving is disabled.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("archive: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("archive: make bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("archive bucket created", slog.String("bucket", s.bucket))
	return nil
}

// Put uploads data under key. A nil Store accepts and drops the object.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s == nil {
		return nil
	}
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return errors.New("archive: empty key")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	s.logger.Debug("archived upload", slog.String("key", key), slog.Int64("size", info.Size))
	return nil
}
