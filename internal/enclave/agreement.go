package enclave

import (
	"github.com/pkg/errors"

	"github.com/glinharesb/sep-go/internal/crypto"
	"github.com/glinharesb/sep-go/internal/hsm"
	"github.com/glinharesb/sep-go/internal/policy"
)

// SharedSecretSize is the length of the raw ECDH output.
const SharedSecretSize = crypto.ScalarSize

// KeyAgreement creates sealed P-256 key-agreement keys and runs ECDH with them.
type KeyAgreement struct {
	e *Enclave
}

// CreateSealedKey creates a key-agreement key protected at level and returns
// its sealed form.
func (a *KeyAgreement) CreateSealedKey(level policy.Level) ([]byte, error) {
	sealed, err := createSealedKey(a.e.provider, hsm.KindAgreement, level)
	return a.e.finish(OpCreateSealedAgreementKey, sealed, sealed, err)
}

// PublicKey returns 0x04 || X || Y for a sealed key-agreement key.
func (a *KeyAgreement) PublicKey(sealed []byte) ([]byte, error) {
	pub, err := publicKey(a.e.provider, hsm.KindAgreement, sealed)
	return a.e.finish(OpAgreementPublicKey, sealed, pub, err)
}

// SharedSecret returns the raw ECDH output (the 32-byte X coordinate) between
// the sealed key and peer. No key derivation is applied; see crypto.DeriveKey.
func (a *KeyAgreement) SharedSecret(sealed, peer []byte) ([]byte, error) {
	secret, err := a.sharedSecret(sealed, peer)
	return a.e.finish(OpSharedSecret, sealed, secret, err)
}

func (a *KeyAgreement) sharedSecret(sealed, peer []byte) ([]byte, error) {
	if _, err := crypto.ParseUncompressed(peer); err != nil {
		return nil, errors.WithStack(err)
	}
	secret, err := a.e.provider.Agree(sealed, peer)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return checkSize(secret, SharedSecretSize)
}

func createSealedKey(p hsm.Provider, kind hsm.KeyKind, level policy.Level) ([]byte, error) {
	desc, err := policy.Resolve(level, p)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sealed, err := p.GenerateKey(kind, desc)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return sealed, nil
}

func publicKey(p hsm.Provider, kind hsm.KeyKind, sealed []byte) ([]byte, error) {
	pub, err := p.PublicKey(kind, sealed)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return checkSize(pub, crypto.UncompressedPointSize)
}
