package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/config"
)

// NewBackend builds the backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryBackend(), nil

	case config.BackendSQLite:
		path, err := config.ExpandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding store path: %w", err)
		}
		return OpenSQLite(ctx, path)

	case config.BackendRedis:
		return OpenRedis(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword.Value(),
			DB:        cfg.RedisDB,
			Namespace: cfg.KeyPrefix,
		})

	case config.BackendChromem, "":
		path, err := config.ExpandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding store path: %w", err)
		}
		return OpenChromem(path, cfg.Collection, false)

	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// Open builds the configured backend and wraps it in a Store.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("embedding store opened",
			zap.String("backend", cfg.Backend),
			zap.String("path", cfg.Path),
		)
	}
	return New(backend, logger), nil
}
