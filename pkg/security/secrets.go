package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// KeyWrapper wraps per-instance data keys with the hub KEK using
// AES-256-GCM. The KEK is read once from a mounted file at startup and is
// immutable for the process lifetime.
type KeyWrapper struct {
	kek []byte // 32 bytes for AES-256
}

// NewKeyWrapper creates a key wrapper from the hub KEK.
// The key must be 32 bytes for AES-256-GCM.
func NewKeyWrapper(kek []byte) (*KeyWrapper, error) {
	if len(kek) != 32 {
		return nil, fmt.Errorf("KEK must be 32 bytes for AES-256, got %d", len(kek))
	}

	return &KeyWrapper{
		kek: kek,
	}, nil
}

// NewInstanceDEK generates a fresh 32-byte data encryption key for one
// instance. Only the wrapped form ever leaves this process: it is
// persisted and delivered in the config document, and the instance
// unwraps it with its own share of the hub KEK.
func NewInstanceDEK() ([]byte, error) {
	dek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

// Wrap encrypts a plaintext key using AES-256-GCM.
// Returns ciphertext with nonce prepended.
func (kw *KeyWrapper) Wrap(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot wrap empty key")
	}

	// Create AES cipher
	block, err := aes.NewCipher(kw.kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// Create GCM mode
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Generate nonce
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and prepend nonce
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Unwrap decrypts a key wrapped with Wrap.
// Expects nonce to be prepended to ciphertext.
func (kw *KeyWrapper) Unwrap(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot unwrap empty data")
	}

	// Create AES cipher
	block, err := aes.NewCipher(kw.kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// Create GCM mode
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Check minimum length
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	// Extract nonce and ciphertext
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	// Decrypt
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap: %w", err)
	}

	return plaintext, nil
}
