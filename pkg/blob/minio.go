package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Config holds object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("blob endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("blob bucket is required")
	}
	return nil
}

// MinioStore implements Store on any S3-compatible service.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger logging.Logger
}

// NewMinioStore creates a store client. It does not contact the server.
func NewMinioStore(cfg Config, logger logging.Logger) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(logging.F("component", "blob_store"), logging.F("bucket", cfg.Bucket)),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Created bucket")
	return nil
}

// Ping reports whether the bucket is reachable and exists.
func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// Put uploads an object. A negative size streams until EOF.
func (s *MinioStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	info, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		s.logger.Error("Failed to upload object", logging.F("path", path), logging.Err(err))
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	s.logger.Debug("Uploaded object", logging.F("path", path), logging.F("size", info.Size))
	return nil
}

// Get downloads an object. Missing objects yield errors.ErrNotFound.
func (s *MinioStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(path, err)
	}
	return data, nil
}

func (s *MinioStore) mapError(path string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("object %s: %w", path, mcerrors.ErrNotFound)
	}
	return fmt.Errorf("failed to download %s: %w", path, err)
}

var _ Store = (*MinioStore)(nil)
