// Command registry serves the agent card catalog read API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	uuid "github.com/google/uuid"
	envconfig "github.com/sethvargo/go-envconfig"
	zap "go.uber.org/zap"

	registry "github.com/agentvault/agentvault-go/registry"
	types "github.com/agentvault/agentvault-go/types"
)

type serverConfig struct {
	Port         string        `env:"REGISTRY_PORT,default=8081"`
	DatabaseURL  string        `env:"REGISTRY_DATABASE_URL" description:"Postgres URL; empty selects the in-memory store"`
	SeedFile     string        `env:"REGISTRY_SEED_FILE" description:"Optional JSON array of agent cards loaded at startup"`
	ReadTimeout  time.Duration `env:"REGISTRY_READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"REGISTRY_WRITE_TIMEOUT,default=30s"`
	Debug        bool          `env:"REGISTRY_DEBUG,default=false"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg serverConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close card store", zap.Error(err))
		}
	}()

	if cfg.SeedFile != "" {
		if err := seed(ctx, store, cfg.SeedFile, logger); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
	}

	handler := registry.NewHandler(store, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newStore(ctx context.Context, cfg serverConfig, logger *zap.Logger) (registry.CardStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory card store")
		return registry.NewMemoryCardStore(), nil
	}
	return registry.NewPostgresCardStore(ctx, cfg.DatabaseURL, logger)
}

// seed loads a JSON array of agent cards into the store.
func seed(ctx context.Context, store registry.CardStore, path string, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cards []types.AgentCard
	if err := json.Unmarshal(data, &cards); err != nil {
		return fmt.Errorf("seed file is not a JSON card array: %w", err)
	}

	for i := range cards {
		if issues := types.ValidateCard(&cards[i]); len(issues) > 0 {
			return fmt.Errorf("seed card %q is invalid: %v", cards[i].HumanReadableID, issues)
		}
		if err := store.Put(ctx, uuid.NewString(), &cards[i]); err != nil {
			return err
		}
	}

	logger.Info("catalog seeded", zap.Int("cards", len(cards)), zap.String("file", path))
	return nil
}
