// Package auth provides the authentication and authorization primitives of the
// ledger service: API key generation and validation, JWT issuance and
// verification, and the organization role model used by the access policy gate.
// See internal/middleware/auth.go and internal/middleware/rbac.go for the
// request-time logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of leading key characters stored in
	// clear text and used to look the key up before the bcrypt comparison
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateAPIKey creates a service key of the form <prefix>_<random>.
// It returns the full key (shown once), its bcrypt hash and the lookup prefix.
func GenerateAPIKey(prefix string) (key, hash, lookupPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = prefix + "_" + base64.RawURLEncoding.EncodeToString(randomBytes)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return key, string(hashBytes), LookupPrefix(key), nil
}

// LookupPrefix returns the stored clear-text prefix for key
func LookupPrefix(key string) string {
	if len(key) > DisplayPrefixLength {
		return key[:DisplayPrefixLength]
	}
	return key
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// IsAPIKey reports whether token looks like a service key rather than a JWT
func IsAPIKey(token, prefix string) bool {
	return prefix != "" && strings.HasPrefix(token, prefix+"_")
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer <jwt-or-key>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}
	return token, nil
}
