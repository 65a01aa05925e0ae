package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// SecretKeySize is the size of AES-256 keys sealed and opened by this package.
	SecretKeySize = 32
	gcmNonceSize  = 12
)

// ErrInvalidSealedSecret is returned when a sealed secret is truncated or fails authentication.
var ErrInvalidSealedSecret = errors.New("invalid sealed secret")

// GenerateSecretKey returns a fresh random AES-256 key.
func GenerateSecretKey() ([]byte, error) {
	key := make([]byte, SecretKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}
	return key, nil
}

// SealSecret encrypts plaintext under key with AES-256-GCM.
//
// The sealed format is:
//
//	[nonce (12 bytes)][ciphertext || tag]
//
// The result is the opaque encrypted secret a client stores with the custody
// service; the service never sees key or plaintext.
func SealSecret(key, plaintext []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// Generate random nonce for AES-GCM
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := make([]byte, 0, gcmNonceSize+len(plaintext)+aesGCM.Overhead())
	sealed = append(sealed, nonce...)
	return aesGCM.Seal(sealed, nonce, plaintext, nil), nil
}

// OpenSecret decrypts a secret produced by SealSecret.
func OpenSecret(key, sealed []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcmNonceSize+aesGCM.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrInvalidSealedSecret)
	}

	// A non-nil destination keeps an empty secret distinct from a missing one.
	ciphertext := sealed[gcmNonceSize:]
	plaintext := make([]byte, 0, len(ciphertext)-aesGCM.Overhead())
	plaintext, err = aesGCM.Open(plaintext, sealed[:gcmNonceSize], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSealedSecret, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SecretKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", SecretKeySize, len(key))
	}

	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	// Create GCM mode
	aesGCM, err := cipher.NewGCM(aesBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
