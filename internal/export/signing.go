package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// Signer produces detached OpenPGP signatures over manifest bytes
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner loads the first entity with an unencrypted private key from an
// ASCII-armored key block
func NewSigner(armoredKey string) (*Signer, error) {
	if strings.TrimSpace(armoredKey) == "" {
		return nil, fmt.Errorf("signing key cannot be empty")
	}
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	for _, e := range keyring {
		if e.PrivateKey == nil {
			continue
		}
		if e.PrivateKey.Encrypted {
			return nil, fmt.Errorf("signing key %X is passphrase protected", e.PrimaryKey.Fingerprint)
		}
		return &Signer{entity: e}, nil
	}
	return nil, fmt.Errorf("signing key block contains no private key")
}

// Sign returns an ASCII-armored detached signature of data
func (s *Signer) Sign(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), nil); err != nil {
		return nil, fmt.Errorf("failed to sign manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// PublicKey returns the ASCII-armored public half of the signing key
func (s *Signer) PublicKey() (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := s.entity.Serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
