package hsm

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"
	"go.uber.org/zap"

	sepcrypto "github.com/glinharesb/sep-go/internal/crypto"
	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/policy"
)

// tpmSealedV1 is the sealed key handed to callers: the TPM-wrapped private
// blob and its public area. Neither is usable outside the TPM that created it.
type tpmSealedV1 struct {
	V     int     `json:"v"`
	Kind  KeyKind `json:"kind"`
	Level int     `json:"level"`
	Priv  []byte  `json:"priv"`
	Pub   []byte  `json:"pub"`
}

// TPM is a Provider backed by a TPM 2.0 device. Keys are children of the
// owner-hierarchy storage primary, which is recreated on every call from the
// same template so no persistent handle is needed.
//
// A TPM cannot gate key use on unlock state or biometry, so only
// NeedsUnlockOnce can be materialized.
type TPM struct {
	open      func() (io.ReadWriteCloser, error)
	ownerAuth string
	logger    *zap.Logger
}

// NewTPM returns a provider that opens path for each operation. An empty
// path probes the platform defaults.
func NewTPM(path, ownerAuth string, logger *zap.Logger) *TPM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TPM{
		open:      func() (io.ReadWriteCloser, error) { return openTPM(path) },
		ownerAuth: ownerAuth,
		logger:    logger,
	}
}

func (t *TPM) Materialize(d policy.Descriptor) error {
	if d.Protection != policy.AfterFirstUnlockThisDeviceOnly || d.Proof != policy.PrivateKeyUsage {
		return fmt.Errorf("%w: tpm cannot enforce %s", ErrPolicyUnsupported, d)
	}
	return nil
}

func (t *TPM) GenerateKey(kind KeyKind, desc policy.Descriptor) ([]byte, error) {
	tmpl, err := keyTemplate(kind)
	if err != nil {
		return nil, err
	}
	if err := t.Materialize(desc); err != nil {
		return nil, err
	}

	rwc, parent, err := t.session()
	if err != nil {
		return nil, err
	}
	defer t.closeSession(rwc, parent)

	priv, pub, _, _, _, err := tpm2.CreateKey(rwc, parent, tpm2.PCRSelection{}, "", "", tmpl)
	if err != nil {
		return nil, fmt.Errorf("tpm: CreateKey: %w", err)
	}

	out, err := json.Marshal(tpmSealedV1{V: 1, Kind: kind, Level: int(desc.Level), Priv: priv, Pub: pub})
	if err != nil {
		return nil, fmt.Errorf("tpm: marshal sealed key: %w", err)
	}
	t.logger.Debug("tpm key created", zap.Stringer("kind", kind))
	return out, nil
}

func (t *TPM) PublicKey(kind KeyKind, sealed []byte) ([]byte, error) {
	sk, err := decodeTPMSealed(kind, sealed)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = t.withKey(sk, func(rwc io.ReadWriter, h tpmutil.Handle) error {
		pub, _, _, err := tpm2.ReadPublic(rwc, h)
		if err != nil {
			return fmt.Errorf("tpm: ReadPublic: %w", err)
		}
		out, err = publicToUncompressed(pub)
		return err
	})
	return out, err
}

func (t *TPM) Agree(sealed, peer []byte) ([]byte, error) {
	sk, err := decodeTPMSealed(KindAgreement, sealed)
	if err != nil {
		return nil, err
	}
	if _, err := sepcrypto.ParseUncompressed(peer); err != nil {
		return nil, err
	}

	in := tpm2.ECPoint{
		XRaw: peer[1 : 1+sepcrypto.ScalarSize],
		YRaw: peer[1+sepcrypto.ScalarSize:],
	}
	var secret []byte
	err = t.withKey(sk, func(rwc io.ReadWriter, h tpmutil.Handle) error {
		z, err := tpm2.ECDHZGen(rwc, h, "", in)
		if err != nil {
			return fmt.Errorf("tpm: ECDHZGen: %w", err)
		}
		secret = leftPad(z.XRaw, sepcrypto.ScalarSize)
		return nil
	})
	return secret, err
}

func (t *TPM) Sign(sealed []byte, d digest.Digest) ([]byte, error) {
	sk, err := decodeTPMSealed(KindSigning, sealed)
	if err != nil {
		return nil, err
	}
	alg, err := tpmHashAlg(d.Variant)
	if err != nil {
		return nil, err
	}
	if len(d.Bytes) != d.Variant.Size() {
		return nil, fmt.Errorf("%w: %d bytes tagged %v", digest.ErrInvalidLength, len(d.Bytes), d.Variant)
	}

	var raw []byte
	err = t.withKey(sk, func(rwc io.ReadWriter, h tpmutil.Handle) error {
		sig, err := tpm2.Sign(rwc, h, "", d.Bytes, nil, &tpm2.SigScheme{Alg: tpm2.AlgECDSA, Hash: alg})
		if err != nil {
			return fmt.Errorf("tpm: Sign: %w", err)
		}
		if sig.ECC == nil {
			return fmt.Errorf("tpm: returned non-ECC signature")
		}
		raw = append(sepcrypto.Pad32(sig.ECC.R), sepcrypto.Pad32(sig.ECC.S)...)
		return nil
	})
	return raw, err
}

// session opens the device and recreates the storage primary.
func (t *TPM) session() (io.ReadWriteCloser, tpmutil.Handle, error) {
	rwc, err := t.open()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	parent, err := createPrimaryStorageKey(rwc, t.ownerAuth)
	if err != nil {
		_ = rwc.Close()
		return nil, 0, err
	}
	return rwc, parent, nil
}

func (t *TPM) closeSession(rwc io.ReadWriteCloser, parent tpmutil.Handle) {
	if err := tpm2.FlushContext(rwc, parent); err != nil {
		t.logger.Warn("tpm flush parent", zap.Error(err))
	}
	if err := rwc.Close(); err != nil {
		t.logger.Warn("tpm close", zap.Error(err))
	}
}

// withKey loads the sealed key under the storage primary and runs fn with it.
func (t *TPM) withKey(sk *tpmSealedV1, fn func(io.ReadWriter, tpmutil.Handle) error) error {
	rwc, parent, err := t.session()
	if err != nil {
		return err
	}
	defer t.closeSession(rwc, parent)

	h, _, err := tpm2.Load(rwc, parent, "", sk.Pub, sk.Priv)
	if err != nil {
		return fmt.Errorf("%w: tpm Load: %v", ErrInvalidHandle, err)
	}
	defer func() {
		if err := tpm2.FlushContext(rwc, h); err != nil {
			t.logger.Warn("tpm flush key", zap.Error(err))
		}
	}()
	return fn(rwc, h)
}

func decodeTPMSealed(want KeyKind, sealed []byte) (*tpmSealedV1, error) {
	var sk tpmSealedV1
	if err := json.Unmarshal(sealed, &sk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	if sk.V != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHandle, sk.V)
	}
	if len(sk.Priv) == 0 || len(sk.Pub) == 0 {
		return nil, fmt.Errorf("%w: missing key blobs", ErrInvalidHandle)
	}
	if sk.Kind != want {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrWrongKind, sk.Kind, want)
	}
	return &sk, nil
}

func keyTemplate(kind KeyKind) (tpm2.Public, error) {
	base := tpm2.FlagFixedTPM | tpm2.FlagFixedParent | tpm2.FlagSensitiveDataOrigin | tpm2.FlagUserWithAuth
	switch kind {
	case KindAgreement:
		return tpm2.Public{
			Type:          tpm2.AlgECC,
			NameAlg:       tpm2.AlgSHA256,
			Attributes:    base | tpm2.FlagDecrypt,
			ECCParameters: &tpm2.ECCParams{CurveID: tpm2.CurveNISTP256},
		}, nil
	case KindSigning:
		return tpm2.Public{
			Type:          tpm2.AlgECC,
			NameAlg:       tpm2.AlgSHA256,
			Attributes:    base | tpm2.FlagSign,
			ECCParameters: &tpm2.ECCParams{CurveID: tpm2.CurveNISTP256},
		}, nil
	default:
		return tpm2.Public{}, fmt.Errorf("tpm: unknown key kind %d", kind)
	}
}

func createPrimaryStorageKey(rwc io.ReadWriter, ownerAuth string) (tpmutil.Handle, error) {
	template := tpm2.Public{
		Type:    tpm2.AlgECC,
		NameAlg: tpm2.AlgSHA256,
		Attributes: tpm2.FlagDecrypt |
			tpm2.FlagRestricted |
			tpm2.FlagFixedTPM |
			tpm2.FlagFixedParent |
			tpm2.FlagSensitiveDataOrigin |
			tpm2.FlagUserWithAuth,
		ECCParameters: &tpm2.ECCParams{
			Symmetric: &tpm2.SymScheme{Alg: tpm2.AlgAES, KeyBits: 128, Mode: tpm2.AlgCFB},
			CurveID:   tpm2.CurveNISTP256,
		},
	}

	h, _, err := tpm2.CreatePrimary(rwc, tpm2.HandleOwner, tpm2.PCRSelection{}, "", ownerAuth, template)
	if err != nil {
		return 0, fmt.Errorf("tpm: CreatePrimary(storage): %w", err)
	}
	return h, nil
}

func tpmHashAlg(v digest.Variant) (tpm2.Algorithm, error) {
	switch v.Hash() {
	case crypto.SHA1:
		return tpm2.AlgSHA1, nil
	case crypto.SHA256:
		return tpm2.AlgSHA256, nil
	case crypto.SHA384:
		return tpm2.AlgSHA384, nil
	case crypto.SHA512:
		return tpm2.AlgSHA512, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedDigest, v)
	}
}

func publicToUncompressed(pub tpm2.Public) ([]byte, error) {
	key, err := pub.Key()
	if err != nil {
		return nil, fmt.Errorf("tpm: public key: %w", err)
	}
	ec, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("tpm: unexpected key type %T", key)
	}
	return sepcrypto.MarshalUncompressed(ec)
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
