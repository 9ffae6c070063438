package enclave

import (
	"github.com/pkg/errors"

	"github.com/glinharesb/sep-go/internal/crypto"
	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/hsm"
	"github.com/glinharesb/sep-go/internal/policy"
)

// SignatureSize is the length of a raw r || s signature.
const SignatureSize = crypto.RawSignatureSize

// Signing creates sealed P-256 signing keys and signs precomputed digests.
type Signing struct {
	e *Enclave
}

func (s *Signing) CreateSealedKey(level policy.Level) ([]byte, error) {
	sealed, err := createSealedKey(s.e.provider, hsm.KindSigning, level)
	return s.e.finish(OpCreateSealedSigningKey, sealed, sealed, err)
}

// PublicKey returns 0x04 || X || Y for a sealed signing key.
func (s *Signing) PublicKey(sealed []byte) ([]byte, error) {
	pub, err := publicKey(s.e.provider, hsm.KindSigning, sealed)
	return s.e.finish(OpSigningPublicKey, sealed, pub, err)
}

// Sign signs a precomputed digest. The digest length selects the variant;
// a length outside {20, 28, 32, 48, 64} fails with InvalidParameterSize.
// The signature is r || s, each 32 bytes big-endian.
func (s *Signing) Sign(sealed, dig []byte) ([]byte, error) {
	sig, err := s.sign(sealed, dig)
	return s.e.finish(OpSign, sealed, sig, err)
}

func (s *Signing) sign(sealed, dig []byte) ([]byte, error) {
	d, err := digest.Resolve(dig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sig, err := s.e.provider.Sign(sealed, d)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return checkSize(sig, SignatureSize)
}
