// Package repository selects the session artifact backend at startup.
package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/instance_service/repository/fs"
	"github.com/f22labs/whatsapp-api/internal/instance_service/repository/mongodb"
	"github.com/f22labs/whatsapp-api/internal/instance_service/repository/redis"
	"github.com/f22labs/whatsapp-api/internal/platform/config"
)

// OpenArtifactStore builds the backend named by cfg.StorageBackend. The result
// is held for the lifetime of the process.
func OpenArtifactStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.ArtifactStore, error) {
	var (
		store domain.ArtifactStore
		err   error
	)
	switch cfg.StorageBackend {
	case config.BackendFilesystem:
		store, err = fs.NewStore(cfg.InstanceDir, logger)
	case config.BackendMongoDB:
		store, err = mongodb.NewStore(ctx, cfg.MongoURI, cfg.MongoDBPrefix, logger)
	case config.BackendRedis:
		store, err = redis.NewStore(ctx, redis.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Artifact store opened", "backend", store.Kind())
	return store, nil
}
