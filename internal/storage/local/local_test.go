package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/pkg/checksum"
)

// newTestStorage creates a Storage backed by a temporary directory
func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(&config.LocalStorageConfig{BasePath: dir})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s, dir
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

func TestNew_RequiresBasePath(t *testing.T) {
	if _, err := New(&config.LocalStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for empty base path")
	}
}

// ---------------------------------------------------------------------------
// Put
// ---------------------------------------------------------------------------

func TestPut(t *testing.T) {
	s, dir := newTestStorage(t)
	data := []byte("proof pack archive")

	obj, err := s.Put(context.Background(), "proof-packs/org-1/exp-1.zip", bytes.NewReader(data), int64(len(data)), storage.ContentTypeZip)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if obj.Key != "proof-packs/org-1/exp-1.zip" {
		t.Errorf("Key = %q", obj.Key)
	}
	if obj.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", obj.Size, len(data))
	}
	if obj.Checksum != checksum.Sum(data) {
		t.Errorf("Checksum = %s, want %s", obj.Checksum, checksum.Sum(data))
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, "proof-packs", "org-1", "exp-1.zip"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Errorf("file content = %q", onDisk)
	}
}

func TestPut_LeavesNoTempFiles(t *testing.T) {
	s, dir := newTestStorage(t)
	if _, err := s.Put(context.Background(), "p/x.zip", strings.NewReader("abc"), 3, storage.ContentTypeZip); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "p"))
	if len(entries) != 1 || entries[0].Name() != "x.zip" {
		t.Errorf("directory entries = %v, want only x.zip", entries)
	}
}

func TestPut_SizeMismatchLeavesNothing(t *testing.T) {
	s, dir := newTestStorage(t)
	if _, err := s.Put(context.Background(), "p/x.zip", strings.NewReader("abc"), 99, storage.ContentTypeZip); err == nil {
		t.Fatal("Put() = nil error, want size mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, "p", "x.zip")); !os.IsNotExist(err) {
		t.Error("partial archive left on disk")
	}
}

func TestPut_RejectsTraversal(t *testing.T) {
	s, _ := newTestStorage(t)
	for _, key := range []string{"../escape.zip", "/abs.zip", "a/../../b.zip"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), 1, storage.ContentTypeZip); err == nil {
			t.Errorf("Put(%q) = nil error, want invalid key", key)
		}
	}
}

// ---------------------------------------------------------------------------
// Open / Stat / SignedURL
// ---------------------------------------------------------------------------

func TestOpen(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	_, _ = s.Put(ctx, "a.zip", strings.NewReader("hello"), 5, storage.ContentTypeZip)

	rc, err := s.Open(ctx, "a.zip")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "hello" {
		t.Errorf("Open() = %q, want hello", got)
	}

	if _, err := s.Open(ctx, "missing.zip"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStat(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	put, _ := s.Put(ctx, "a.zip", strings.NewReader("hello"), 5, storage.ContentTypeZip)

	obj, err := s.Stat(ctx, "a.zip")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if obj.Size != 5 || obj.Checksum != put.Checksum {
		t.Errorf("Stat() = %+v, want size 5 checksum %s", obj, put.Checksum)
	}
	if obj.ContentType != storage.ContentTypeZip {
		t.Errorf("ContentType = %q", obj.ContentType)
	}
	if time.Since(obj.LastModified) > time.Minute {
		t.Errorf("LastModified = %v", obj.LastModified)
	}

	if _, err := s.Stat(ctx, "missing.zip"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Stat(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSignedURL(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	_, _ = s.Put(ctx, "a.zip", strings.NewReader("x"), 1, storage.ContentTypeZip)

	u, err := s.SignedURL(ctx, "a.zip", time.Hour)
	if err != nil || u != "" {
		t.Errorf("SignedURL() = %q, %v; want empty URL and nil error", u, err)
	}
	if _, err := s.SignedURL(ctx, "missing.zip", time.Hour); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SignedURL(missing) error = %v, want ErrNotFound", err)
	}
}
