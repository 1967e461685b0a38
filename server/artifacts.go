package server

import (
	"context"
	"encoding/json"
	"fmt"

	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
	types "github.com/agentvault/agentvault-go/types"
)

// ArtifactStorage persists offloaded artifact payloads outside the task
// record.
type ArtifactStorage interface {
	// Store persists data under the task/artifact pair and returns the URI
	// callers use to retrieve it.
	Store(ctx context.Context, taskID, artifactID string, data []byte) (string, error)

	// Retrieve returns a previously stored payload.
	Retrieve(ctx context.Context, taskID, artifactID string) ([]byte, error)

	// Delete removes a stored payload.
	Delete(ctx context.Context, taskID, artifactID string) error

	// Exists reports whether a payload is stored.
	Exists(ctx context.Context, taskID, artifactID string) (bool, error)
}

// NewArtifactStorage builds the storage provider named by the configuration.
func NewArtifactStorage(cfg config.ArtifactsConfig, logger *zap.Logger) (ArtifactStorage, error) {
	switch cfg.Provider {
	case "", "filesystem":
		return NewFilesystemArtifactStorage(cfg, logger)
	case "minio":
		return NewMinioArtifactStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown artifact storage provider %q", cfg.Provider)
	}
}

// NewArtifactOffloaderFromConfig builds the offloader when artifacts are
// enabled; a nil return means artifacts stay inline.
func NewArtifactOffloaderFromConfig(cfg config.ArtifactsConfig, logger *zap.Logger) (*ArtifactOffloader, error) {
	if !cfg.Enable {
		return nil, nil
	}
	storage, err := NewArtifactStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewArtifactOffloader(storage, cfg.OffloadThreshold, logger), nil
}

// ArtifactOffloader rewrites oversized inline artifact payloads into storage
// references before they enter the task record.
type ArtifactOffloader struct {
	storage   ArtifactStorage
	threshold int
	logger    *zap.Logger
}

// NewArtifactOffloader creates an offloader over the given storage.
func NewArtifactOffloader(storage ArtifactStorage, threshold int, logger *zap.Logger) *ArtifactOffloader {
	if threshold <= 0 {
		threshold = 64 * 1024
	}
	return &ArtifactOffloader{
		storage:   storage,
		threshold: threshold,
		logger:    logger,
	}
}

// Process returns the artifact unchanged when its inline payload is small
// enough, otherwise stores the payload and returns a URI-bearing copy.
func (o *ArtifactOffloader) Process(ctx context.Context, taskID string, artifact types.Artifact) (types.Artifact, error) {
	if artifact.Content == nil {
		return artifact, nil
	}

	data, err := json.Marshal(artifact.Content)
	if err != nil {
		return artifact, fmt.Errorf("failed to encode artifact content: %w", err)
	}
	if len(data) <= o.threshold {
		return artifact, nil
	}

	uri, err := o.storage.Store(ctx, taskID, artifact.ID, data)
	if err != nil {
		return artifact, fmt.Errorf("failed to offload artifact content: %w", err)
	}

	o.logger.Debug("offloaded artifact content",
		zap.String("task_id", taskID),
		zap.String("artifact_id", artifact.ID),
		zap.Int("bytes", len(data)),
		zap.String("uri", uri))

	offloaded := artifact
	offloaded.Content = nil
	offloaded.URI = &uri
	if offloaded.MediaType == nil {
		mediaType := "application/json"
		offloaded.MediaType = &mediaType
	}
	return offloaded, nil
}
