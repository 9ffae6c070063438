package hsm

import (
	"errors"

	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/policy"
)

var (
	// ErrUnavailable means the secure hardware cannot be reached or does not exist.
	ErrUnavailable = errors.New("secure hardware module unavailable")
	// ErrInvalidHandle means a sealed key is malformed, tampered, or foreign to this module.
	ErrInvalidHandle = errors.New("invalid sealed key")
	// ErrWrongKind means a sealed key was created for the other operation family.
	ErrWrongKind = errors.New("sealed key kind mismatch")
	// ErrPolicyUnsupported means the module cannot enforce an access descriptor.
	ErrPolicyUnsupported = errors.New("access policy not enforceable by this module")
	// ErrAccessDenied means the platform refused a key use under its access policy.
	ErrAccessDenied = errors.New("key use denied by access policy")
	// ErrUnsupportedDigest means the module cannot sign a digest of this variant.
	ErrUnsupportedDigest = errors.New("digest variant not supported by this module")
)

// KeyKind separates key-agreement keys from signing keys. A sealed key of one
// kind is never accepted by the other kind's operations.
type KeyKind uint8

const (
	KindAgreement KeyKind = iota + 1
	KindSigning
)

func (k KeyKind) String() string {
	switch k {
	case KindAgreement:
		return "AGREEMENT"
	case KindSigning:
		return "SIGNING"
	default:
		return "UNKNOWN"
	}
}

// Provider abstracts the secure hardware module. Private keys never leave it:
// GenerateKey returns an opaque sealed key, and every private-key operation
// takes that sealed key back. Implementations must decode the sealed key
// themselves and reject one of the wrong kind with ErrWrongKind.
type Provider interface {
	policy.Platform

	GenerateKey(kind KeyKind, desc policy.Descriptor) ([]byte, error)
	// PublicKey returns 0x04 || X || Y.
	PublicKey(kind KeyKind, sealed []byte) ([]byte, error)
	// Agree returns the raw ECDH output with a validated uncompressed peer point.
	Agree(sealed, peer []byte) ([]byte, error)
	// Sign returns r || s over a digest whose variant is already resolved.
	Sign(sealed []byte, d digest.Digest) ([]byte, error)
}
