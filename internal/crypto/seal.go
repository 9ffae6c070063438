package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// WrapKeySize is the key size for Seal and Open.
const WrapKeySize = chacha20poly1305.KeySize

// Seal encrypts plaintext with XChaCha20-Poly1305.
// The returned ciphertext has the nonce prepended: [nonce | encrypted | tag].
// aad is authenticated but not encrypted.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts ciphertext produced by Seal. aad must match the value used
// when sealing.
func Open(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305: %w", err)
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize+aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305 open: %w", err)
	}
	return plaintext, nil
}

// GenerateWrapKey returns a random 256-bit key for Seal.
func GenerateWrapKey() ([]byte, error) {
	key := make([]byte, WrapKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate wrap key: %w", err)
	}
	return key, nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
