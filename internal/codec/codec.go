// package codec encrypts provider tokens before they reach the share store.
//
// Ciphertext is the base64 (std, padded) encoding of a 24 byte XChaCha20-Poly1305
// nonce followed by the sealed token.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/desertthunder/sharelist/internal/shared"
	"golang.org/x/crypto/chacha20poly1305"
)

// Codec seals and opens token strings with a single symmetric key.
type Codec struct {
	aead cipher.AEAD
}

// New builds a [Codec] from a base64 encoded 32 byte key.
func New(keyB64 string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid base64: %v", shared.ErrInvalidConfig, err)
	}
	return NewFromKey(key)
}

// NewFromKey builds a [Codec] from raw key bytes.
func NewFromKey(key []byte) (*Codec, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", shared.ErrInvalidConfig, chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}
	return &Codec{aead: aead}, nil
}

// GenerateKey returns a fresh random key in the form accepted by [New].
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under a random nonce, so equal inputs never share a ciphertext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by [Codec.Encrypt].
//
// Malformed, truncated, tampered or foreign-key ciphertext always yields [shared.ErrCredentialCorrupt].
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", shared.ErrCredentialCorrupt)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", shared.ErrCredentialCorrupt)
	}

	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", shared.ErrCredentialCorrupt)
	}
	return string(plain), nil
}
