package digest

import (
	"crypto"
	"errors"
	"fmt"
)

// ErrInvalidLength is returned when a byte sequence matches no supported digest size.
var ErrInvalidLength = errors.New("digest: unsupported digest length")

// Variant identifies one of the fixed hash output sizes accepted for signing.
type Variant uint8

const (
	Bits160 Variant = iota + 1
	Bits224
	Bits256
	Bits384
	Bits512
)

// variants is the registry: every supported variant with its exact size and
// hash, smallest first. The other lookups are derived from it.
var variants = [...]struct {
	v    Variant
	size int
	hash crypto.Hash
}{
	{Bits160, 20, crypto.SHA1},
	{Bits224, 28, crypto.SHA224},
	{Bits256, 32, crypto.SHA256},
	{Bits384, 48, crypto.SHA384},
	{Bits512, 64, crypto.SHA512},
}

// bySize is the length -> variant dispatch table.
var bySize = func() map[int]Variant {
	m := make(map[int]Variant, len(variants))
	for _, e := range variants {
		m[e.size] = e.v
	}
	return m
}()

// Variants returns every supported variant, smallest first.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	for i, e := range variants {
		out[i] = e.v
	}
	return out
}

// Size returns the exact byte length of a digest of this variant.
func (v Variant) Size() int {
	if !v.valid() {
		return 0
	}
	return variants[v-Bits160].size
}

// Hash returns the hash function conventionally producing this digest size.
func (v Variant) Hash() crypto.Hash {
	if !v.valid() {
		return 0
	}
	return variants[v-Bits160].hash
}

func (v Variant) String() string {
	switch v {
	case Bits160:
		return "BITS_160"
	case Bits224:
		return "BITS_224"
	case Bits256:
		return "BITS_256"
	case Bits384:
		return "BITS_384"
	case Bits512:
		return "BITS_512"
	default:
		return "UNKNOWN"
	}
}

func (v Variant) valid() bool {
	return v >= Bits160 && v <= Bits512
}

// Lookup returns the variant whose size is exactly n bytes.
func Lookup(n int) (Variant, bool) {
	v, ok := bySize[n]
	return v, ok
}

// Digest is a caller-supplied hash value tagged with its resolved variant.
// It is only valid for the duration of one signing call.
type Digest struct {
	Variant Variant
	Bytes   []byte
}

// Resolve validates b against the registry. It never truncates or pads.
func Resolve(b []byte) (Digest, error) {
	v, ok := Lookup(len(b))
	if !ok {
		return Digest{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(b))
	}
	return Digest{Variant: v, Bytes: b}, nil
}
