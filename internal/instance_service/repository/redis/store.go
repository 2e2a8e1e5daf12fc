// Package redis stores session artifacts as one hash per instance at <prefix>:<name>.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
)

// Options configures the redis client.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is the key-value ArtifactStore.
type Store struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
}

var _ domain.ArtifactStore = (*Store)(nil)

// NewStore connects and pings redis.
func NewStore(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", domain.ErrBackendUnavailable, err)
	}
	return NewStoreWithClient(client, opts.KeyPrefix, logger), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *goredis.Client, prefix string, logger *slog.Logger) *Store {
	return &Store{client: client, prefix: prefix, logger: logger.With("component", "artifact_store_redis")}
}

func (s *Store) Kind() string { return "redis" }

func (s *Store) key(name string) (string, error) {
	if err := domain.ValidateName(name); err != nil {
		return "", err
	}
	return s.prefix + ":" + name, nil
}

// scanKeys iterates every instance hash key.
func (s *Store) scanKeys(ctx context.Context, fn func(key string) error) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *Store) ListInstanceNames(ctx context.Context) ([]string, error) {
	var names []string
	seen := map[string]struct{}{}
	err := s.scanKeys(ctx, func(key string) error {
		name := strings.TrimPrefix(key, s.prefix+":")
		if domain.ValidateName(name) != nil {
			return nil
		}
		if _, dup := seen[name]; dup {
			return nil
		}
		seen[name] = struct{}{}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", domain.ErrBackendUnavailable, err)
	}
	return names, nil
}

func (s *Store) PurgeInstance(ctx context.Context, name string) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", domain.ErrBackendUnavailable, key, err)
	}
	s.logger.InfoContext(ctx, "Instance artifacts purged", "instance", name)
	return nil
}

func (s *Store) PurgeStaleArtifacts(ctx context.Context) (int, error) {
	removed := 0
	err := s.scanKeys(ctx, func(key string) error {
		fields, err := s.client.HKeys(ctx, key).Result()
		if err != nil {
			return err
		}
		var stale []string
		for _, f := range fields {
			if domain.IsEphemeralArtifact(f) {
				stale = append(stale, f)
			}
		}
		if len(stale) == 0 {
			return nil
		}
		n, err := s.client.HDel(ctx, key, stale...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: sweep: %v", domain.ErrBackendUnavailable, err)
	}
	return removed, nil
}

func (s *Store) WriteArtifact(ctx context.Context, name, field string, data []byte) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	if err := domain.ValidateArtifactKey(field); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, field, data).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %v", domain.ErrBackendUnavailable, key, err)
	}
	return nil
}

func (s *Store) ReadArtifact(ctx context.Context, name, field string) ([]byte, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateArtifactKey(field); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("%w: hget %s: %v", domain.ErrBackendUnavailable, key, err)
	}
	return data, nil
}

func (s *Store) Close(context.Context) error {
	return s.client.Close()
}
