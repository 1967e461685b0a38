package server

import (
	"context"
	"fmt"

	zap "go.uber.org/zap"

	config "github.com/agentvault/agentvault-go/server/config"
)

// NewTaskStore builds the task store named by the configuration.
func NewTaskStore(ctx context.Context, cfg config.StoreConfig, streamCfg config.StreamConfig, logger *zap.Logger) (TaskStore, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewInMemoryTaskStore(logger, streamCfg.ListenerBuffer), nil
	case "redis":
		return NewRedisTaskStore(ctx, cfg.URL, logger, streamCfg.ListenerBuffer)
	default:
		return nil, fmt.Errorf("unknown task store provider %q", cfg.Provider)
	}
}
