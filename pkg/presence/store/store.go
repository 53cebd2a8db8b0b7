package store

import (
	"context"
	"log/slog"

	"github.com/soundloop/collab/pkg/config"
	"github.com/soundloop/collab/pkg/presence"
)

// New selects a presence store backend from configuration. An unreachable
// Redis is a degraded mode, not a fatal one: construction falls back to
// the in-memory store with a warning so the host process keeps serving.
func New(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) presence.Store {
	switch cfg.Backend {
	case "redis":
		r, err := NewRedis(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Redis presence store unavailable, falling back to in-memory",
				slog.String("addr", cfg.RedisAddr),
				slog.Any("error", err),
			)
			return NewMemory(logger, cfg.BoardIndexTTL)
		}
		logger.Info("Using Redis presence store", slog.String("addr", cfg.RedisAddr))
		return r
	default:
		logger.Info("Using in-memory presence store")
		return NewMemory(logger, cfg.BoardIndexTTL)
	}
}
