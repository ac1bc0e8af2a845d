// Package gcs stores proof packs in a Google Cloud Storage bucket. Credentials
// come from a service account key file when one is configured, otherwise from
// Application Default Credentials. A custom endpoint targets an emulator and
// disables authentication.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/riskmate/riskmate/internal/config"
	appstorage "github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/pkg/checksum"
)

const (
	backendName  = "gcs"
	checksumMeta = "sha256"
)

func init() {
	appstorage.Register(backendName, func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// Storage implements appstorage.Storage on a GCS bucket
type Storage struct {
	client *storage.Client
	bucket string
}

// New creates the GCS client
func New(cfg *appconfig.GCSStorageConfig) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// Name implements appstorage.Storage
func (s *Storage) Name() string { return backendName }

// Close releases the client
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

// Put writes the archive with a DoesNotExist precondition, so a proof pack
// can never be silently overwritten.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*appstorage.Object, error) {
	key, err := appstorage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read proof pack: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, fmt.Errorf("proof pack size mismatch: read %d bytes, expected %d", len(data), size)
	}
	sum := checksum.Sum(data)

	w := s.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{checksumMeta: sum}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	return &appstorage.Object{
		Key:          key,
		Size:         int64(len(data)),
		Checksum:     sum,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// Open implements appstorage.Storage
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, appstorage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return rc, nil
}

// Stat implements appstorage.Storage
func (s *Storage) Stat(ctx context.Context, key string) (*appstorage.Object, error) {
	attrs, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, appstorage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return &appstorage.Object{
		Key:          key,
		Size:         attrs.Size,
		Checksum:     attrs.Metadata[checksumMeta],
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated,
	}, nil
}

// SignedURL returns a V4 signed GET URL. Signing needs a service account
// identity; without one the error is returned and callers stream instead.
func (s *Storage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return "", err
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign GCS URL: %w", err)
	}
	return u, nil
}
