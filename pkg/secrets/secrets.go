// Package secrets seals device credentials at rest. Values are encrypted
// with nacl/secretbox under the process encryption key and stored as
// url-safe base64. Neither the key nor plaintext may appear in errors or
// logs.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/edgewatch/edgewatch/pkg/util"
)

const nonceSize = 24

// Sealer encrypts and decrypts credential strings
type Sealer struct {
	key *[32]byte
}

// NewSealer creates a sealer from a decoded encryption key
func NewSealer(key *[32]byte) (*Sealer, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: encryption key is required", util.ErrInvalidConfig)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts a credential. Each call uses a fresh random nonce, so
// sealing the same value twice produces different outputs.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, s.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed credential
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("sealed value is not url-safe base64")
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("sealed value too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, s.key)
	if !ok {
		return "", fmt.Errorf("credential unseal failed")
	}
	return string(plaintext), nil
}

// GenerateKey returns a new random encryption key in the url-safe base64
// form ENCRYPTION_KEY expects.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}
