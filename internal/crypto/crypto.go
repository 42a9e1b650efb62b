// Package crypto implements the at-rest encryption service (C3): symmetric
// AEAD over a single configured key, producing self-framed ciphertext blobs
// (nonce || ciphertext || tag). Used for external-service runtime config,
// S3 secret keys, and any other persisted secret material (§4.3).
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/temps-sh/temps-core/internal/apperr"
)

// KeySize is the required raw key length for chacha20poly1305.
const KeySize = chacha20poly1305.KeySize

// Service encrypts and decrypts secret material with one configured key.
// chacha20poly1305 is the AEAD primitive: no separate MAC to wire up, and
// fast in software without AES-NI.
type Service struct {
	aead cipher.AEAD
}

// New constructs a Service from a raw 32-byte key.
func New(key []byte) (*Service, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "crypto: invalid key")
	}
	return &Service{aead: aead}, nil
}

// NewFromBase64 decodes a base64-encoded key, for sourcing config values as
// plain strings (env vars, config files) and parsing them at the boundary.
func NewFromBase64(b64 string) (*Service, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "crypto: key is not valid base64")
	}
	if len(key) != KeySize {
		return nil, apperr.New(apperr.Internal, "crypto: key must be 32 bytes", nil)
	}
	return New(key)
}

// Encrypt seals plaintext, returning a self-framed blob: nonce || ciphertext || tag.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "crypto: failed to generate nonce")
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering, truncation, or
// use of a different key surfaces as apperr.Crypto (§7, §8 invariant 7).
func (s *Service) Decrypt(blob []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(blob) < n {
		return nil, apperr.New(apperr.Crypto, "crypto: ciphertext too short", nil)
	}
	nonce, ciphertext := blob[:n], blob[n:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Crypto, err, "crypto: decryption failed")
	}
	return plaintext, nil
}

// EncryptString is a convenience wrapper for secret strings (passwords,
// access keys) that round-trip through persisted columns.
func (s *Service) EncryptString(plaintext string) ([]byte, error) {
	return s.Encrypt([]byte(plaintext))
}

// DecryptString is the inverse of EncryptString.
func (s *Service) DecryptString(blob []byte) (string, error) {
	p, err := s.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(p), nil
}
