// Package enclave is the service boundary over a secure hardware module.
// Private keys stay inside the module; callers hold only sealed keys, which
// this package passes through without ever decoding them.
//
// Every failure leaving this package is an *Error.
package enclave

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/glinharesb/sep-go/internal/hsm"
)

// Boundary operation names. They prefix Error.Location and label audit records.
const (
	OpCreateSealedAgreementKey = "createSealedAgreementKey"
	OpAgreementPublicKey       = "publicKeyFromSealedAgreementKey"
	OpSharedSecret             = "sharedSecret"
	OpCreateSealedSigningKey   = "createSealedSigningKey"
	OpSigningPublicKey         = "publicKeyFromSealedSigningKey"
	OpSign                     = "sign"
)

var errMalformedOutput = errors.New("hardware module returned malformed output")

// Auditor receives one record per boundary call. err is nil on success and an
// *Error otherwise.
type Auditor interface {
	Record(op string, sealed []byte, err error)
}

type Option func(*Enclave)

func WithLogger(l *zap.Logger) Option {
	return func(e *Enclave) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithAuditor(a Auditor) Option {
	return func(e *Enclave) {
		e.auditor = a
	}
}

// Enclave binds the key-agreement and signing services to one provider.
// It holds no mutable state and is safe for concurrent use.
type Enclave struct {
	provider hsm.Provider
	logger   *zap.Logger
	auditor  Auditor

	agreement *KeyAgreement
	signing   *Signing
}

func New(provider hsm.Provider, opts ...Option) *Enclave {
	if provider == nil {
		provider = hsm.Unavailable{}
	}
	e := &Enclave{provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.agreement = &KeyAgreement{e: e}
	e.signing = &Signing{e: e}
	return e
}

// With returns a copy of e sharing its provider, with opts applied on top.
// e itself is not modified.
func (e *Enclave) With(opts ...Option) *Enclave {
	c := &Enclave{provider: e.provider, logger: e.logger, auditor: e.auditor}
	for _, opt := range opts {
		opt(c)
	}
	c.agreement = &KeyAgreement{e: c}
	c.signing = &Signing{e: c}
	return c
}

func (e *Enclave) KeyAgreement() *KeyAgreement { return e.agreement }

func (e *Enclave) Signing() *Signing { return e.signing }

// finish is the single exit of every boundary operation: a failure is
// translated and never accompanied by a result.
func (e *Enclave) finish(op string, sealed, out []byte, err error) ([]byte, error) {
	if err == nil && len(out) == 0 {
		err = errors.WithStack(errMalformedOutput)
	}
	if err == nil {
		if e.auditor != nil {
			e.auditor.Record(op, sealed, nil)
		}
		return out, nil
	}

	ce := Translate(op, err)
	e.logger.Debug("enclave operation failed",
		zap.String("op", op),
		zap.Stringer("kind", ce.Kind),
		zap.Int("code", ce.Code),
		zap.String("location", ce.Location),
		zap.Error(err),
	)
	if e.auditor != nil {
		e.auditor.Record(op, sealed, ce)
	}
	return nil, ce
}

func checkSize(out []byte, want int) ([]byte, error) {
	if len(out) != want {
		return nil, errors.Wrapf(errMalformedOutput, "%d bytes, want %d", len(out), want)
	}
	return out, nil
}
