package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key from secret material using HKDF-SHA256.
// context is used as the HKDF info parameter for domain separation.
// length specifies the output key size in bytes.
//
// Shared secrets returned by key agreement are raw curve output; callers
// must pass them through DeriveKey (or their own KDF) before using them as
// symmetric keys.
func DeriveKey(secret, context []byte, length int) ([]byte, error) {
	return DeriveKeyWithSalt(secret, nil, context, length)
}

// DeriveKeyWithSalt is DeriveKey with an explicit HKDF salt.
func DeriveKeyWithSalt(secret, salt, context []byte, length int) ([]byte, error) {
	if length <= 0 || length > 64 {
		return nil, fmt.Errorf("invalid derived key length: %d (must be 1-64)", length)
	}

	r := hkdf.New(sha256.New, secret, salt, context)
	derived := make([]byte, length)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}
	return derived, nil
}
