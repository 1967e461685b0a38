package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
)

// FilesystemArtifactStorage stores artifact payloads on local disk.
type FilesystemArtifactStorage struct {
	basePath string
	baseURL  string
	logger   *zap.Logger
}

var _ ArtifactStorage = (*FilesystemArtifactStorage)(nil)

// NewFilesystemArtifactStorage creates a filesystem-backed storage rooted at
// the configured base path.
func NewFilesystemArtifactStorage(cfg config.ArtifactsConfig, logger *zap.Logger) (*FilesystemArtifactStorage, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "./artifacts"
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	return &FilesystemArtifactStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:   logger,
	}, nil
}

// sanitizeComponent strips path separators and traversal sequences so ids
// never escape the base directory.
func sanitizeComponent(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}

func (s *FilesystemArtifactStorage) path(taskID, artifactID string) string {
	return filepath.Join(s.basePath, sanitizeComponent(taskID), sanitizeComponent(artifactID))
}

// Store writes the payload and returns its public URI.
func (s *FilesystemArtifactStorage) Store(ctx context.Context, taskID, artifactID string, data []byte) (string, error) {
	path := s.path(taskID, artifactID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	s.logger.Debug("stored artifact payload",
		zap.String("task_id", taskID),
		zap.String("artifact_id", artifactID),
		zap.String("path", path))

	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.baseURL, sanitizeComponent(taskID), sanitizeComponent(artifactID)), nil
	}
	return "file://" + path, nil
}

// Retrieve reads a previously stored payload.
func (s *FilesystemArtifactStorage) Retrieve(ctx context.Context, taskID, artifactID string) ([]byte, error) {
	data, err := os.ReadFile(s.path(taskID, artifactID))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Delete removes a stored payload.
func (s *FilesystemArtifactStorage) Delete(ctx context.Context, taskID, artifactID string) error {
	if err := os.Remove(s.path(taskID, artifactID)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// Exists reports whether a payload is stored.
func (s *FilesystemArtifactStorage) Exists(ctx context.Context, taskID, artifactID string) (bool, error) {
	_, err := os.Stat(s.path(taskID, artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
