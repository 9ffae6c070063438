package hsm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/glinharesb/sep-go/internal/crypto"
	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/policy"
)

const (
	sealedVersion    = 1
	sealedHeaderSize = 5
	wrapKeyContext   = "sep-go/software-hsm/wrap/v1"
)

// Authorizer is consulted before every use of a sealed key with the policy
// the key was created under. A non-nil error denies the use.
type Authorizer func(kind KeyKind, desc policy.Descriptor) error

type SoftwareOption func(*SoftwareHSM)

// WithAuthorizer installs the hook that stands in for the platform's
// unlock-state and biometry checks.
func WithAuthorizer(a Authorizer) SoftwareOption {
	return func(s *SoftwareHSM) {
		s.authorize = a
	}
}

// SoftwareHSM is a software-only module for development and testing.
// Private scalars are sealed with a wrap key derived from a device root key;
// a sealed key is only usable by a SoftwareHSM holding the same root key.
//
// Sealed layout: version | kind | level | protection | proof | XChaCha20-Poly1305(scalar).
// The 5-byte header is the AEAD associated data.
type SoftwareHSM struct {
	wrapKey   []byte
	authorize Authorizer
}

// NewSoftwareHSM builds a module bound to rootKey.
func NewSoftwareHSM(rootKey []byte, opts ...SoftwareOption) (*SoftwareHSM, error) {
	if len(rootKey) < crypto.WrapKeySize {
		return nil, fmt.Errorf("software hsm: root key must be at least %d bytes", crypto.WrapKeySize)
	}
	wrapKey, err := crypto.DeriveKey(rootKey, []byte(wrapKeyContext), crypto.WrapKeySize)
	if err != nil {
		return nil, fmt.Errorf("software hsm: derive wrap key: %w", err)
	}
	s := &SoftwareHSM{wrapKey: wrapKey}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewEphemeralSoftwareHSM builds a module with a random root key. Its sealed
// keys die with the process.
func NewEphemeralSoftwareHSM(opts ...SoftwareOption) (*SoftwareHSM, error) {
	root, err := crypto.GenerateWrapKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(root)
	return NewSoftwareHSM(root, opts...)
}

// Materialize accepts every descriptor; enforcement is delegated to the Authorizer.
func (s *SoftwareHSM) Materialize(d policy.Descriptor) error {
	if _, err := policy.Describe(d.Level); err != nil {
		return ErrPolicyUnsupported
	}
	return nil
}

func (s *SoftwareHSM) GenerateKey(kind KeyKind, desc policy.Descriptor) ([]byte, error) {
	if kind != KindAgreement && kind != KindSigning {
		return nil, fmt.Errorf("software hsm: unknown key kind %d", kind)
	}
	if err := s.Materialize(desc); err != nil {
		return nil, err
	}

	key, err := crypto.GenerateP256Key()
	if err != nil {
		return nil, err
	}
	scalar, err := key.Bytes()
	if err != nil {
		return nil, fmt.Errorf("software hsm: encode scalar: %w", err)
	}
	defer crypto.Zero(scalar)

	header := []byte{sealedVersion, byte(kind), byte(desc.Level), byte(desc.Protection), byte(desc.Proof)}
	ct, err := crypto.Seal(s.wrapKey, scalar, header)
	if err != nil {
		return nil, fmt.Errorf("software hsm: seal: %w", err)
	}
	return append(header, ct...), nil
}

func (s *SoftwareHSM) PublicKey(kind KeyKind, sealed []byte) ([]byte, error) {
	key, err := s.unseal(kind, sealed)
	if err != nil {
		return nil, err
	}
	return crypto.MarshalUncompressed(&key.PublicKey)
}

func (s *SoftwareHSM) Agree(sealed, peer []byte) ([]byte, error) {
	key, err := s.unseal(KindAgreement, sealed)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.ParseUncompressed(peer)
	if err != nil {
		return nil, err
	}
	return crypto.ECDH(key, pub)
}

func (s *SoftwareHSM) Sign(sealed []byte, d digest.Digest) ([]byte, error) {
	if d.Variant.Size() == 0 || len(d.Bytes) != d.Variant.Size() {
		return nil, fmt.Errorf("%w: %d bytes tagged %v", digest.ErrInvalidLength, len(d.Bytes), d.Variant)
	}
	key, err := s.unseal(KindSigning, sealed)
	if err != nil {
		return nil, err
	}
	return crypto.SignRaw(key, d.Bytes)
}

// unseal authenticates the sealed key, checks its kind and asks the
// Authorizer whether this use is allowed.
func (s *SoftwareHSM) unseal(want KeyKind, sealed []byte) (*ecdsa.PrivateKey, error) {
	if len(sealed) <= sealedHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidHandle, len(sealed))
	}
	header := sealed[:sealedHeaderSize]
	if header[0] != sealedVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHandle, header[0])
	}

	scalar, err := crypto.Open(s.wrapKey, sealed[sealedHeaderSize:], header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	defer crypto.Zero(scalar)

	kind := KeyKind(header[1])
	if kind != want {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrWrongKind, kind, want)
	}

	desc := policy.Descriptor{
		Level:      policy.Level(header[2]),
		Protection: policy.Protection(header[3]),
		Proof:      policy.Proof(header[4]),
	}
	if s.authorize != nil {
		if err := s.authorize(kind, desc); err != nil {
			return nil, errors.Join(ErrAccessDenied, err)
		}
	}

	key, err := crypto.ParseScalar(scalar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	return key, nil
}
