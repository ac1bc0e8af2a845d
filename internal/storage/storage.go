// Package storage defines the artifact store proof packs are written to.
//
// Backends register themselves with the factory from an init() function in
// their own package, and cmd/server blank-imports each backend:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(cfg)
//	    })
//	}
//
// Objects are immutable once written. There is no delete: a proof pack stays
// retrievable for as long as its export job row exists.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Open and Stat when no object exists at key
var ErrNotFound = errors.New("object not found")

// ContentTypeZip is the media type of a packaged proof pack
const ContentTypeZip = "application/zip"

// Storage is implemented by every artifact backend
type Storage interface {
	// Put writes the object and returns its size and SHA-256 checksum
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)

	// Open returns a reader for the object or ErrNotFound
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns object metadata or ErrNotFound
	Stat(ctx context.Context, key string) (*Object, error)

	// SignedURL returns a time-limited download URL. Backends that cannot sign
	// (local) return "" and the API streams the object itself.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Name is the backend identifier stored on the export job
	Name() string
}

// Object describes a stored artifact
type Object struct {
	Key          string
	Size         int64
	Checksum     string
	ContentType  string
	LastModified time.Time
}

// PackKey is the object key of one proof-pack archive
func PackKey(orgID, exportID string) string {
	return path.Join("proof-packs", orgID, exportID+".zip")
}

// CleanKey normalizes key and rejects absolute paths and traversal
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty object key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}
