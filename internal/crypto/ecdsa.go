package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	// ScalarSize is the byte width of a P-256 scalar and of each signature component.
	ScalarSize = 32
	// UncompressedPointSize is the length of 0x04 || X || Y.
	UncompressedPointSize = 1 + 2*ScalarSize
	// RawSignatureSize is the length of r || s.
	RawSignatureSize = 2 * ScalarSize

	uncompressedTag = 0x04
)

var (
	ErrInvalidEncoding = errors.New("invalid uncompressed point encoding")
	ErrInvalidPoint    = errors.New("point is not on the P-256 curve")
	ErrInvalidScalar   = errors.New("invalid P-256 private scalar")
)

// GenerateP256Key creates a new P-256 key pair.
func GenerateP256Key() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	return key, nil
}

// ParseScalar rebuilds a P-256 private key from its 32-byte big-endian scalar.
func ParseScalar(scalar []byte) (*ecdsa.PrivateKey, error) {
	if len(scalar) != ScalarSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidScalar, len(scalar))
	}
	key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), scalar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScalar, err)
	}
	return key, nil
}

// SignRaw signs a precomputed digest and returns r || s, each a 32-byte
// big-endian integer. Digests longer than the curve order are truncated by
// the signing primitive, never by the caller.
func SignRaw(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return append(Pad32(r), Pad32(s)...), nil
}

// VerifyRaw verifies an r || s signature over a precomputed digest.
func VerifyRaw(pub *ecdsa.PublicKey, digest, signature []byte) bool {
	if pub == nil || len(signature) != RawSignatureSize {
		return false
	}
	r := new(big.Int).SetBytes(signature[:ScalarSize])
	s := new(big.Int).SetBytes(signature[ScalarSize:])
	return ecdsa.Verify(pub, digest, r, s)
}

// MarshalUncompressed encodes a P-256 public key as 0x04 || X || Y.
func MarshalUncompressed(pub *ecdsa.PublicKey) ([]byte, error) {
	b, err := pub.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return b, nil
}

// ParseUncompressed decodes 0x04 || X || Y. A wrong length or tag is an
// encoding error; a well-formed encoding off the curve is ErrInvalidPoint.
func ParseUncompressed(b []byte) (*ecdsa.PublicKey, error) {
	if len(b) != UncompressedPointSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidEncoding, len(b), UncompressedPointSize)
	}
	if b[0] != uncompressedTag {
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrInvalidEncoding, b[0])
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return pub, nil
}

// ECDH returns the raw X coordinate of key * peer. No KDF is applied.
func ECDH(key *ecdsa.PrivateKey, peer *ecdsa.PublicKey) ([]byte, error) {
	priv, err := key.ECDH()
	if err != nil {
		return nil, fmt.Errorf("ecdh private key: %w", err)
	}
	pub, err := peer.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	return secret, nil
}

// Pad32 left-pads a big.Int to 32 bytes (big-endian).
func Pad32(n *big.Int) []byte {
	out := make([]byte, ScalarSize)
	if n == nil {
		return out
	}
	n.FillBytes(out)
	return out
}
