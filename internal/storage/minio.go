package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"recast/internal/config"
	"recast/internal/logging"
	"recast/internal/services"
)

// MinIO stores objects in an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinIO connects to the configured endpoint and ensures the bucket exists.
func NewMinIO(ctx context.Context, cfg config.MinIO, logger *slog.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize minio client: %w", err)
	}
	m := &MinIO{
		client: client,
		bucket: cfg.Bucket,
		logger: logging.NewComponentLogger(logger, "storage"),
	}
	if err := m.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context, region string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("created storage bucket",
		logging.String("bucket", m.bucket),
		logging.String(logging.FieldEventType, "storage_bucket_created"),
	)
	return nil
}

func (m *MinIO) Save(ctx context.Context, key string, r io.Reader) (Location, error) {
	if err := validateKey(key); err != nil {
		return Location{}, err
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return Location{}, classifyMinIO("storage.save", key, err)
	}
	return Location{
		Backend:  "minio",
		Key:      key,
		URI:      fmt.Sprintf("s3://%s/%s", m.bucket, key),
		Size:     info.Size,
		Checksum: info.ETag,
	}, nil
}

func (m *MinIO) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinIO("storage.load", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, classifyMinIO("storage.load", key, err)
	}
	return obj, nil
}

func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classifyMinIO("storage.delete", key, err)
	}
	return nil
}

func (m *MinIO) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, classifyMinIO("storage.exists", key, err)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

func classifyMinIO(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case isNoSuchKey(err):
		return services.Permanent(op, key, ErrNotFound)
	case resp.Code == "AccessDenied" || resp.Code == "InvalidAccessKeyId" || resp.Code == "SignatureDoesNotMatch":
		return services.Permanent(op, key, fmt.Errorf("%w: %v", services.ErrCredentials, err))
	default:
		return services.Transient(op, key, err)
	}
}
