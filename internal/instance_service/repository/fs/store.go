// Package fs stores session artifacts as files, one directory per instance.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
)

// Store is the filesystem ArtifactStore rooted at a single directory.
type Store struct {
	root   string
	logger *slog.Logger
}

var _ domain.ArtifactStore = (*Store)(nil)

// NewStore creates root if needed.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create instance dir: %v", domain.ErrBackendUnavailable, err)
	}
	return &Store{root: root, logger: logger.With("component", "artifact_store_fs")}, nil
}

func (s *Store) Kind() string { return "filesystem" }

func (s *Store) instanceDir(name string) (string, error) {
	if err := domain.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// ListInstanceNames returns every non-empty instance directory. Empty
// directories are left over from aborted provisioning and are removed.
func (s *Store) ListInstanceNames(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read instance dir: %v", domain.ErrBackendUnavailable, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || domain.ValidateName(e.Name()) != nil {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unreadable instance dir", "instance", e.Name(), "error", err)
			continue
		}
		if len(files) == 0 {
			if err := os.Remove(dir); err != nil {
				s.logger.WarnContext(ctx, "Failed to remove empty instance dir", "instance", e.Name(), "error", err)
			}
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *Store) PurgeInstance(ctx context.Context, name string) error {
	dir, err := s.instanceDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove %s: %v", domain.ErrBackendUnavailable, name, err)
	}
	s.logger.InfoContext(ctx, "Instance artifacts purged", "instance", name)
	return nil
}

func (s *Store) PurgeStaleArtifacts(ctx context.Context) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !domain.IsEphemeralArtifact(d.Name()) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: sweep: %v", domain.ErrBackendUnavailable, err)
	}
	return removed, nil
}

func (s *Store) WriteArtifact(_ context.Context, name, key string, data []byte) error {
	dir, err := s.instanceDir(name)
	if err != nil {
		return err
	}
	if err := domain.ValidateArtifactKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	// Write then rename so readers never see a partial artifact.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *Store) ReadArtifact(_ context.Context, name, key string) ([]byte, error) {
	dir, err := s.instanceDir(name)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateArtifactKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return data, nil
}

func (s *Store) Close(context.Context) error { return nil }
