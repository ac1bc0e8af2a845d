// Package validation checks proof-pack artifacts before they are trusted:
// archive structure (path traversal, directories, size limits, required
// manifest), manifest schema versions, and detached OpenPGP signatures over
// the manifest. Validators never modify their input.
package validation

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const (
	// MaxPackSize is the maximum uncompressed size of a proof pack (512MB)
	MaxPackSize = 512 * 1024 * 1024

	// PackManifestName is the entry every proof pack must contain
	PackManifestName = "manifest.json"
)

// ValidatePack validates a proof-pack ZIP archive of the given size
func ValidatePack(r io.ReaderAt, size int64, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = MaxPackSize
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("invalid zip format: %w", err)
	}
	if len(zr.File) == 0 {
		return fmt.Errorf("archive is empty")
	}

	var totalSize uint64
	seen := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		if err := validatePath(f.Name); err != nil {
			return fmt.Errorf("invalid file path in archive: %w", err)
		}
		if f.FileInfo().IsDir() || strings.Contains(f.Name, "/") {
			return fmt.Errorf("nested entries not allowed: %s", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate entry in archive: %s", f.Name)
		}
		seen[f.Name] = true

		totalSize += f.UncompressedSize64
		if totalSize > uint64(maxSize) {
			return fmt.Errorf("archive size exceeds maximum allowed size of %d bytes", maxSize)
		}
	}

	if !seen[PackManifestName] {
		return fmt.Errorf("archive has no %s", PackManifestName)
	}
	return nil
}

// validatePath checks for path traversal attacks
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty entry name")
	}
	clean := filepath.Clean(path)

	// Check for absolute paths (Unix-style)
	if filepath.IsAbs(clean) || strings.HasPrefix(path, "/") {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	// Check for Windows-style absolute paths (e.g. C:\...) even on non-Windows hosts.
	if len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/') {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	if strings.Contains(path, "..") || strings.Contains(path, `\`) {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}

	return nil
}
