// Package local stores proof packs on the local filesystem. It suits
// development and single-node deployments; several API instances would need
// a shared volume. The backend cannot sign URLs, so downloads are streamed by
// the API.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/pkg/checksum"
)

const backendName = "local"

func init() {
	storage.Register(backendName, func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local)
	})
}

// Storage implements storage.Storage under a base directory
type Storage struct {
	basePath string
}

// New creates the base directory if needed
func New(cfg *config.LocalStorageConfig) (*Storage, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("local storage base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Storage{basePath: cfg.BasePath}, nil
}

// Name implements storage.Storage
func (s *Storage) Name() string { return backendName }

func (s *Storage) fullPath(key string) (string, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

// Put writes to a temporary file in the target directory and renames it into
// place, so readers never observe a partial archive.
func (s *Storage) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) (*storage.Object, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	sum, written, err := checksum.Reader(io.TeeReader(r, tmp))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if size >= 0 && written != size {
		return nil, fmt.Errorf("proof pack size mismatch: wrote %d bytes, expected %d", written, size)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	cleaned, _ := storage.CleanKey(key)
	return &storage.Object{
		Key:          cleaned,
		Size:         written,
		Checksum:     sum,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// Open implements storage.Storage
func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Stat hashes the file on every call; proof packs are small and rarely stat'd
func (s *Storage) Stat(ctx context.Context, key string) (*storage.Object, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}

	f, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sum, _, err := checksum.Reader(f)
	if err != nil {
		return nil, err
	}

	return &storage.Object{
		Key:          filepath.ToSlash(key),
		Size:         info.Size(),
		Checksum:     sum,
		ContentType:  contentType(full),
		LastModified: info.ModTime(),
	}, nil
}

// SignedURL always returns "" for existing objects; the API streams them
func (s *Storage) SignedURL(ctx context.Context, key string, _ time.Duration) (string, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("failed to check file: %w", err)
	}
	return "", nil
}

func contentType(name string) string {
	ext := filepath.Ext(name)
	if ext == ".zip" {
		return storage.ContentTypeZip
	}
	return mime.TypeByExtension(ext)
}
