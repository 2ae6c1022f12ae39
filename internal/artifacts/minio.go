package artifacts

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"climate-analytics/internal/config"
	"climate-analytics/pkg/logging"
)

// MinioMirror uploads artifacts to a MinIO or S3 compatible bucket
type MinioMirror struct {
	client *minio.Client
	bucket string
	logger *logging.StructuredLogger
}

// NewMinioMirror connects to the configured endpoint and makes sure the bucket
// exists. An empty endpoint means no mirror: it returns nil, nil.
func NewMinioMirror(ctx context.Context, cfg config.ArtifactsConfig, logger *logging.StructuredLogger) (*MinioMirror, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, errors.New("artifacts.bucket is required when an endpoint is set")
	}

	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	m := &MinioMirror{client: client, bucket: cfg.Bucket, logger: logger}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Info(ctx, "[ARTIFACT_MIRROR_INIT] Bucket mirror ready", logging.Fields{
		"endpoint": endpoint,
		"bucket":   cfg.Bucket,
	})
	return m, nil
}

func (m *MinioMirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("error creating bucket %s: %w", m.bucket, err)
	}
	m.logger.Info(ctx, "[ARTIFACT_BUCKET_CREATED] Bucket created", logging.Fields{
		"bucket": m.bucket,
	})
	return nil
}

// Upload copies the file at path to objectName
func (m *MinioMirror) Upload(ctx context.Context, objectName, path string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, objectName, path, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", objectName, m.bucket, err)
	}
	return nil
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
