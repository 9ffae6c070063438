package enclave

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/glinharesb/sep-go/internal/crypto"
	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/hsm"
	"github.com/glinharesb/sep-go/internal/policy"
)

// Domain names the error domain carried by every *Error.
const Domain = "io.github.glinharesb.sep"

// Canonical error codes. Callers only ever see these two.
const (
	CodeUnavailable = 1
	CodeOther       = 2
)

// ErrParameterSize reports an operand or result that does not fit the
// caller's fixed-size buffers.
var ErrParameterSize = errors.New("parameter size out of range")

// Kind classifies a failure before it is reduced to a code.
type Kind uint8

const (
	Unclassified Kind = iota
	HardwareUnavailable
	PolicyConstructionFailed
	InvalidParameterSize
	UnderlyingCryptoFailure
)

func (k Kind) String() string {
	switch k {
	case HardwareUnavailable:
		return "HARDWARE_UNAVAILABLE"
	case PolicyConstructionFailed:
		return "POLICY_CONSTRUCTION_FAILED"
	case InvalidParameterSize:
		return "INVALID_PARAMETER_SIZE"
	case UnderlyingCryptoFailure:
		return "UNDERLYING_CRYPTO_FAILURE"
	default:
		return "UNCLASSIFIED"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names are Unclassified.
func ParseKind(s string) Kind {
	for k := HardwareUnavailable; k <= UnderlyingCryptoFailure; k++ {
		if k.String() == s {
			return k
		}
	}
	return Unclassified
}

// Code returns the canonical code for k.
func (k Kind) Code() int {
	if k == HardwareUnavailable {
		return CodeUnavailable
	}
	return CodeOther
}

// Error is the canonical failure returned by every operation in this package.
// All fields are always populated.
type Error struct {
	Kind        Kind
	Code        int
	Domain      string
	Description string
	// Location is "operation (file.go:line)", the line being where the
	// failure was detected.
	Location string

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Location, e.Description, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Translate converts any failure raised inside op into an *Error. An error
// that already is an *Error is returned unchanged. A nil err yields nil.
func Translate(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	kind := classify(err)
	return &Error{
		Kind:        kind,
		Code:        kind.Code(),
		Domain:      Domain,
		Description: describe(kind, err),
		Location:    location(op, err),
		Err:         err,
	}
}

func classify(err error) Kind {
	switch {
	// Checked first: an unavailable platform also refuses every descriptor.
	case errors.Is(err, hsm.ErrUnavailable):
		return HardwareUnavailable
	case errors.Is(err, policy.ErrConstructionFailed),
		errors.Is(err, hsm.ErrPolicyUnsupported):
		return PolicyConstructionFailed
	case errors.Is(err, digest.ErrInvalidLength),
		errors.Is(err, crypto.ErrInvalidEncoding),
		errors.Is(err, ErrParameterSize):
		return InvalidParameterSize
	case errors.Is(err, hsm.ErrInvalidHandle),
		errors.Is(err, hsm.ErrWrongKind),
		errors.Is(err, hsm.ErrAccessDenied),
		errors.Is(err, hsm.ErrUnsupportedDigest),
		errors.Is(err, crypto.ErrInvalidPoint),
		errors.Is(err, crypto.ErrInvalidScalar):
		return UnderlyingCryptoFailure
	default:
		return Unclassified
	}
}

func describe(kind Kind, err error) string {
	switch kind {
	case HardwareUnavailable:
		return "Secure enclave is not available"
	case PolicyConstructionFailed:
		// The policy sentinel already names the failure; keep only its detail.
		msg := strings.TrimPrefix(err.Error(), policy.ErrConstructionFailed.Error()+": ")
		return "Access control construction failed: " + msg
	case InvalidParameterSize:
		return "Invalid parameter size: " + err.Error()
	case UnderlyingCryptoFailure:
		return "Crypto error: " + err.Error()
	default:
		return "Unknown error: " + err.Error()
	}
}

func location(op string, err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		if frames := st.StackTrace(); len(frames) > 0 {
			return fmt.Sprintf("%s (%s:%d)", op, frames[0], frames[0])
		}
	}
	return op
}
