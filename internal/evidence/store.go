// Package evidence uploads assembled videos to object storage and mints
// time-limited signed links for notification bodies.
package evidence

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageError wraps a failed storage operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// ObjectStore is the subset of object-storage operations the evidence
// pipeline needs.
type ObjectStore interface {
	PutFile(ctx context.Context, key, filePath string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// MinIOConfig configures the MinIO-backed store.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// MinIOStore implements ObjectStore using MinIO.
type MinIOStore struct {
	client *minio.Client
	bucket string
	cfg    MinIOConfig
	logger *zap.Logger
}

// NewMinIOStore creates the client and ensures the bucket exists.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	store := &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		cfg:    cfg,
		logger: zap.L().Named("evidence-store"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		store.logger.Info("created evidence bucket", zap.String("bucket", cfg.Bucket))
	}
	return store, nil
}

// PutFile uploads a local file, retrying with exponential backoff. The
// file is re-opened per attempt so retries always start from offset zero.
func (s *MinIOStore) PutFile(ctx context.Context, key, filePath string) error {
	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		if s.cfg.RetryBackoff > 0 {
			ebo.InitialInterval = s.cfg.RetryBackoff
		}
		ebo.Reset()
		if s.cfg.MaxRetries > 0 {
			return backoff.WithMaxRetries(ebo, uint64(s.cfg.MaxRetries))
		}
		return ebo
	}

	op := func() error {
		file, err := os.Open(filePath)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer file.Close()

		stat, err := file.Stat()
		if err != nil {
			return backoff.Permanent(err)
		}

		info, err := s.client.PutObject(ctx, s.bucket, key, file, stat.Size(),
			minio.PutObjectOptions{ContentType: contentTypeForKey(key)})
		if err != nil {
			return err
		}

		s.logger.Debug("evidence uploaded",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		return &StorageError{Op: "put_file", Key: key, Err: err}
	}
	return nil
}

// PresignedURL mints a time-limited signed download link.
func (s *MinIOStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", &StorageError{Op: "presign", Key: key, Err: err}
	}
	return u.String(), nil
}

// Delete removes an object.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *MinIOStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Op: "health_check", Err: err}
	}
	if !exists {
		return &StorageError{Op: "health_check", Err: fmt.Errorf("bucket %s does not exist", s.bucket)}
	}
	return nil
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(key, ".avi"):
		return "video/x-msvideo"
	case strings.HasSuffix(key, ".webm"):
		return "video/webm"
	case strings.HasSuffix(key, ".mkv"):
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
