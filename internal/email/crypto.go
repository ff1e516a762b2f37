package email

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Cipher encrypts monitor passwords at rest with AES-256-GCM. The key comes
// from EMAIL_ENCRYPTION_KEY: 64 hex chars, or any string hashed to 32 bytes.
type Cipher struct {
	key []byte
}

// NewCipher derives a cipher from the configured key material.
func NewCipher(keyMaterial string) (*Cipher, error) {
	if keyMaterial == "" {
		return nil, fmt.Errorf("email encryption key is not configured")
	}
	if raw, err := hex.DecodeString(keyMaterial); err == nil && len(raw) == 32 {
		return &Cipher{key: raw}, nil
	}
	sum := sha256.Sum256([]byte(keyMaterial))
	return &Cipher{key: sum[:]}, nil
}

// Encrypt seals plaintext into a base64 envelope of nonce||ciphertext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64 envelope produced by Encrypt.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to decode envelope: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("envelope too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
