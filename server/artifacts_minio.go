package server

import (
	"bytes"
	"context"
	"fmt"

	minio "github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
)

// MinioArtifactStorage stores artifact payloads in S3-compatible object
// storage.
type MinioArtifactStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
	logger  *zap.Logger
}

var _ ArtifactStorage = (*MinioArtifactStorage)(nil)

// NewMinioArtifactStorage creates an object-storage-backed provider and
// ensures the bucket exists.
func NewMinioArtifactStorage(cfg config.ArtifactsConfig, logger *zap.Logger) (*MinioArtifactStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio artifact storage requires ARTIFACTS_ENDPOINT")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.BucketName
	if bucket == "" {
		bucket = "artifacts"
	}

	exists, err := client.BucketExists(context.Background(), bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created artifacts bucket", zap.String("bucket", bucket))
	}

	return &MinioArtifactStorage{
		client:  client,
		bucket:  bucket,
		baseURL: cfg.BaseURL,
		logger:  logger,
	}, nil
}

func (s *MinioArtifactStorage) objectName(taskID, artifactID string) string {
	return fmt.Sprintf("%s/%s", sanitizeComponent(taskID), sanitizeComponent(artifactID))
}

// Store uploads the payload and returns its public URI.
func (s *MinioArtifactStorage) Store(ctx context.Context, taskID, artifactID string, data []byte) (string, error) {
	object := s.objectName(taskID, artifactID)

	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	s.logger.Debug("stored artifact payload",
		zap.String("task_id", taskID),
		zap.String("artifact_id", artifactID),
		zap.String("object", object))

	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, object), nil
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, object), nil
}

// Retrieve downloads a previously stored payload.
func (s *MinioArtifactStorage) Retrieve(ctx context.Context, taskID, artifactID string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.objectName(taskID, artifactID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer func() {
		if err := object.Close(); err != nil {
			s.logger.Error("failed to close object reader", zap.Error(err))
		}
	}()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(object); err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Delete removes a stored payload.
func (s *MinioArtifactStorage) Delete(ctx context.Context, taskID, artifactID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(taskID, artifactID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// Exists reports whether a payload is stored.
func (s *MinioArtifactStorage) Exists(ctx context.Context, taskID, artifactID string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.objectName(taskID, artifactID), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
