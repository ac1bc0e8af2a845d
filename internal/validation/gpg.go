// gpg.go provides validation of GPG public keys and detached signature verification
// for proof-pack manifests using ASCII-armored OpenPGP keys.
package validation

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

const (
	publicKeyBegin = "-----BEGIN PGP PUBLIC KEY BLOCK-----"
	publicKeyEnd   = "-----END PGP PUBLIC KEY BLOCK-----"
)

// ParseGPGPublicKey validates that the provided string is a valid GPG public key in ASCII-armored format
func ParseGPGPublicKey(keyArmored string) error {
	if keyArmored == "" {
		return fmt.Errorf("GPG public key cannot be empty")
	}

	if !strings.Contains(keyArmored, publicKeyBegin) {
		return fmt.Errorf("invalid GPG public key: missing BEGIN marker")
	}

	if !strings.Contains(keyArmored, publicKeyEnd) {
		return fmt.Errorf("invalid GPG public key: missing END marker")
	}

	if !IsValidGPGKeyFormat(keyArmored) {
		return fmt.Errorf("invalid GPG public key: END marker precedes BEGIN marker")
	}

	// Try to actually parse the key to validate it
	_, err := openpgp.ReadArmoredKeyRing(strings.NewReader(keyArmored))
	if err != nil {
		return fmt.Errorf("failed to parse GPG public key: %w", err)
	}

	return nil
}

// VerifySignature verifies a GPG signature against data using the provided public key
func VerifySignature(publicKeyArmored string, data []byte, signature []byte) error {
	if publicKeyArmored == "" {
		return fmt.Errorf("public key cannot be empty")
	}

	if len(data) == 0 {
		return fmt.Errorf("data to verify cannot be empty")
	}

	if len(signature) == 0 {
		return fmt.Errorf("signature cannot be empty")
	}

	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(publicKeyArmored))
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	// Try to decode as ASCII armor first
	decodedSig := signature
	block, err := armor.Decode(bytes.NewReader(signature))
	if err == nil {
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(block.Body); err != nil {
			return fmt.Errorf("failed to read armored signature: %w", err)
		}
		decodedSig = buf.Bytes()
	}

	_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(decodedSig), nil)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}

	return nil
}

// IsValidGPGKeyFormat performs basic validation on GPG key format
func IsValidGPGKeyFormat(key string) bool {
	beginIdx := strings.Index(key, publicKeyBegin)
	endIdx := strings.Index(key, publicKeyEnd)
	return beginIdx >= 0 && endIdx >= 0 && beginIdx < endIdx
}

// NormalizeGPGKey normalizes a GPG public key by ensuring proper line endings and format
func NormalizeGPGKey(key string) string {
	key = strings.ReplaceAll(key, "\r\n", "\n")
	key = strings.TrimSpace(key)
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	return key
}

// SignatureResult contains the result of a manifest signature check
type SignatureResult struct {
	Verified       bool
	KeyID          string
	KeyFingerprint string
	Error          error
}

// VerifyManifestSignature checks a detached manifest.json.asc signature
// against each trusted key in turn and reports the first key that verifies
func VerifyManifestSignature(manifest []byte, signature []byte, publicKeys []string) *SignatureResult {
	result := &SignatureResult{}

	if len(manifest) == 0 {
		result.Error = fmt.Errorf("manifest content is empty")
		return result
	}

	if len(signature) == 0 {
		result.Error = fmt.Errorf("signature content is empty")
		return result
	}

	if len(publicKeys) == 0 {
		result.Error = fmt.Errorf("no public keys provided")
		return result
	}

	var lastErr error
	for _, key := range publicKeys {
		if key == "" {
			continue
		}

		err := VerifySignature(NormalizeGPGKey(key), manifest, signature)
		if err == nil {
			result.Verified = true
			keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key))
			if err == nil && len(keyring) > 0 {
				result.KeyID = fmt.Sprintf("%X", keyring[0].PrimaryKey.KeyId)
				result.KeyFingerprint = fmt.Sprintf("%X", keyring[0].PrimaryKey.Fingerprint)
			}
			return result
		}
		lastErr = err
	}

	result.Error = fmt.Errorf("signature verification failed with all provided keys: %v", lastErr)
	return result
}
