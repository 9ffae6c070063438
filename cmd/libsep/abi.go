package main

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/glinharesb/sep-go/internal/config"
	"github.com/glinharesb/sep-go/internal/enclave"
	"github.com/glinharesb/sep-go/internal/hsm"
	"github.com/glinharesb/sep-go/internal/policy"
)

// bufSize is the capacity of sep_buf_t.bytes.
const bufSize = 512

// configDirEnv names a directory holding config.yaml. Without it the library
// runs on the embedded defaults plus environment overrides.
const configDirEnv = "SEP_CONFIG_DIR"

var (
	once   sync.Once
	shared *enclave.Enclave
)

// instance builds the process-wide enclave on first use. A backend that
// cannot be opened leaves every call failing as unavailable.
func instance() *enclave.Enclave {
	once.Do(func() {
		shared = newEnclave()
	})
	return shared
}

func newEnclave() *enclave.Enclave {
	var paths []string
	if dir := os.Getenv(configDirEnv); dir != "" {
		paths = append(paths, dir)
	}
	cfg, err := config.Load(paths)
	if err != nil {
		zap.L().Error("libsep: config", zap.Error(err))
		return enclave.New(hsm.Unavailable{})
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		logger = zap.NewNop()
	}
	provider, err := hsm.Open(cfg.Backend.BackendOptions(logger))
	if err != nil {
		logger.Error("libsep: open backend", zap.String("backend", cfg.Backend.Kind), zap.Error(err))
		provider = hsm.Unavailable{}
	}
	return enclave.New(provider, enclave.WithLogger(logger))
}

type keyKind int

const (
	agreementKey keyKind = iota
	signingKey
)

// The call* functions hold everything the exported symbols do apart from
// moving bytes across the C boundary. Every error they return is an
// *enclave.Error.

func callGenerate(e *enclave.Enclave, kind keyKind, level int) ([]byte, error) {
	op, create := enclave.OpCreateSealedSigningKey, e.Signing().CreateSealedKey
	if kind == agreementKey {
		op, create = enclave.OpCreateSealedAgreementKey, e.KeyAgreement().CreateSealedKey
	}
	sealed, err := create(policy.Level(level))
	if err != nil {
		return nil, err
	}
	return fitOutput(op, sealed)
}

func callPublicKey(e *enclave.Enclave, kind keyKind, sealed []byte) ([]byte, error) {
	if kind == agreementKey {
		return e.KeyAgreement().PublicKey(sealed)
	}
	return e.Signing().PublicKey(sealed)
}

func callKeyExchange(e *enclave.Enclave, sealed, peer []byte) ([]byte, error) {
	return e.KeyAgreement().SharedSecret(sealed, peer)
}

func callSign(e *enclave.Enclave, sealed, digest []byte) ([]byte, error) {
	return e.Signing().Sign(sealed, digest)
}

// fitOutput fails when out cannot be copied into a sep_buf_t.
func fitOutput(op string, out []byte) ([]byte, error) {
	if len(out) > bufSize {
		return nil, enclave.Translate(op, errors.Wrapf(enclave.ErrParameterSize, "result is %d bytes, buffer holds %d", len(out), bufSize))
	}
	return out, nil
}

// inputError reports a sep_buf_t argument that is NULL or claims more than
// bufSize bytes.
func inputError(op, name string, n uint64, isNil bool) *enclave.Error {
	if isNil {
		return enclave.Translate(op, errors.Wrapf(enclave.ErrParameterSize, "%s is NULL", name))
	}
	return enclave.Translate(op, errors.Wrapf(enclave.ErrParameterSize, "%s.len is %d, buffer holds %d", name, n, bufSize))
}

// errorFields flattens err into the sep_error_t fields. Strings are cut to
// leave room for the terminating NUL.
func errorFields(err error) (code uint64, domain, description, location []byte) {
	var ce *enclave.Error
	if !errors.As(err, &ce) {
		ce = enclave.Translate("libsep", err)
	}
	return uint64(ce.Code), cString(ce.Domain), cString(ce.Description), cString(ce.Location)
}

// cString returns s, truncated to bufSize-1 bytes, followed by a NUL.
func cString(s string) []byte {
	if len(s) > bufSize-1 {
		s = s[:bufSize-1]
	}
	out := make([]byte, len(s)+1)
	copy(out, s)
	return out
}

// buffer is the Go side of one sep_buf_t.
type buffer interface {
	// storage is the full fixed-size byte array.
	storage() []byte
	length() uint64
	setLength(n int)
}

// errorSlot is the Go side of one sep_error_t.
type errorSlot interface {
	setCode(code uint64)
	descriptionBuf() buffer
	locationBuf() buffer
	domainBuf() buffer
}

// readFrom copies the live bytes out of src. A NULL or overlong src is an
// InvalidParameterSize error.
func readFrom(op, name string, src buffer) ([]byte, error) {
	if src == nil {
		return nil, inputError(op, name, 0, true)
	}
	n := src.length()
	if n > bufSize {
		return nil, inputError(op, name, n, false)
	}
	out := make([]byte, n)
	copy(out, src.storage()[:n])
	return out, nil
}

func writeTo(dst buffer, b []byte) {
	dst.setLength(copy(dst.storage(), b))
}

func fillError(slot errorSlot, err error) {
	if slot == nil {
		return
	}
	code, domain, description, location := errorFields(err)
	slot.setCode(code)
	writeTo(slot.descriptionBuf(), description)
	writeTo(slot.locationBuf(), location)
	writeTo(slot.domainBuf(), domain)
}

// complete delivers one call's outcome. On failure dst is emptied and slot is
// filled; on success dst receives out and slot is left untouched. It returns
// the C status: 0 or -1.
func complete(out []byte, err error, dst buffer, slot errorSlot) int {
	if err == nil && dst == nil {
		err = inputError("libsep", "output", 0, true)
	}
	if err != nil {
		if dst != nil {
			dst.setLength(0)
		}
		fillError(slot, err)
		return -1
	}
	writeTo(dst, out)
	return 0
}
