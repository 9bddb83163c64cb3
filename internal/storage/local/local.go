// Package local implements the filesystem archive backend. It suits development
// and single-node deployments; multiple instances would need a shared volume.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.ArchiveConfig) (storage.Archive, error) {
		return New(&cfg.Local)
	})
}

// LocalArchive stores archived messages under a base directory
type LocalArchive struct {
	basePath string
}

// New creates the base directory if needed and returns the backend
func New(cfg *config.LocalArchiveConfig) (*LocalArchive, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local archive base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	abs, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive directory: %w", err)
	}
	return &LocalArchive{basePath: abs}, nil
}

// resolve maps a key to a path inside basePath, rejecting traversal.
func (a *LocalArchive) resolve(key string) (string, error) {
	full := filepath.Join(a.basePath, filepath.FromSlash(key))
	if full == a.basePath || !strings.HasPrefix(full, a.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive key: %q", key)
	}
	return full, nil
}

// Put writes the object atomically via a temp file and rename
func (a *LocalArchive) Put(ctx context.Context, key string, r io.Reader, size int64) (*storage.PutResult, error) {
	fullPath, err := a.resolve(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("failed to finalize file: %w", err)
	}

	return &storage.PutResult{
		Key:      key,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get opens the archived object
func (a *LocalArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := a.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks whether the object file is present
func (a *LocalArchive) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := a.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat file: %w", err)
}

// Delete removes the object and prunes empty parent directories
func (a *LocalArchive) Delete(ctx context.Context, key string) error {
	fullPath, err := a.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	// best effort
	dir := filepath.Dir(fullPath)
	for dir != a.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
