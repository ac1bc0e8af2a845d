// Package checksum provides the SHA-256 helpers used for proof-pack integrity:
// per-file content hashes listed in a manifest, the manifest hash itself, and
// constant-time comparison of hex digests during verification.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Sum returns the lowercase hex SHA-256 digest of data
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Reader hashes everything read from r and reports the number of bytes consumed
func Reader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// Equal compares two hex digests in constant time, ignoring case and
// surrounding whitespace. Empty digests never match.
func Equal(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Verify reports whether the digest of r matches expected
func Verify(r io.Reader, expected string) (bool, error) {
	actual, _, err := Reader(r)
	if err != nil {
		return false, err
	}
	return Equal(actual, expected), nil
}
