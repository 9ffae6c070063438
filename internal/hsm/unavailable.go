package hsm

import (
	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/policy"
)

// Unavailable is the provider for hosts without secure hardware. Every call
// fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Materialize(policy.Descriptor) error { return ErrUnavailable }

func (Unavailable) GenerateKey(KeyKind, policy.Descriptor) ([]byte, error) {
	return nil, ErrUnavailable
}

func (Unavailable) PublicKey(KeyKind, []byte) ([]byte, error) { return nil, ErrUnavailable }

func (Unavailable) Agree(_, _ []byte) ([]byte, error) { return nil, ErrUnavailable }

func (Unavailable) Sign([]byte, digest.Digest) ([]byte, error) { return nil, ErrUnavailable }
