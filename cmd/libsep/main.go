// Command libsep builds the C shared library:
//
//	go build -buildmode=c-shared -o libsep.so ./cmd/libsep
//
// Every function returns 0 on success or -1 on failure. On failure the
// output buffer is left empty and the error slot is filled; on success the
// error slot is not touched.
package main

/*
#include <stdint.h>
#include <stddef.h>

typedef struct {
	size_t len;
	uint8_t bytes[512];
} sep_buf_t;

typedef struct {
	uint64_t code;
	sep_buf_t description;
	sep_buf_t location;
	sep_buf_t domain;
} sep_error_t;

typedef enum {
	sep_permission_needs_unlock_once = 1,
	sep_permission_needs_unlock = 2,
	sep_permission_needs_interactive_auth = 3,
	sep_permission_needs_biometry = 4,
	sep_permission_needs_same_biometry = 5
} sep_permissions_t;
*/
import "C"

import (
	"unsafe"

	"github.com/glinharesb/sep-go/internal/enclave"
)

func main() {}

//export sep_p256_generate
func sep_p256_generate(permissions C.sep_permissions_t, key *C.sep_buf_t, serr *C.sep_error_t) C.int {
	return generate(agreementKey, permissions, key, serr)
}

//export sep_p256_generate_signing
func sep_p256_generate_signing(permissions C.sep_permissions_t, key *C.sep_buf_t, serr *C.sep_error_t) C.int {
	return generate(signingKey, permissions, key, serr)
}

//export sep_p256_publickey
func sep_p256_publickey(key *C.sep_buf_t, publickey *C.sep_buf_t, serr *C.sep_error_t) C.int {
	return publicKey(agreementKey, enclave.OpAgreementPublicKey, key, publickey, serr)
}

//export sep_p256_signing_publickey
func sep_p256_signing_publickey(key *C.sep_buf_t, publickey *C.sep_buf_t, serr *C.sep_error_t) C.int {
	return publicKey(signingKey, enclave.OpSigningPublicKey, key, publickey, serr)
}

//export sep_p256_keyexchange
func sep_p256_keyexchange(key *C.sep_buf_t, other *C.sep_buf_t, dhsecret *C.sep_buf_t, serr *C.sep_error_t) C.int {
	const op = enclave.OpSharedSecret
	sealed, ok := readBuf(op, "key", key, serr)
	if !ok {
		return -1
	}
	peer, ok := readBuf(op, "other", other, serr)
	if !ok {
		return -1
	}
	out, err := callKeyExchange(instance(), sealed, peer)
	return finish(out, err, dhsecret, serr)
}

//export sep_p256_signhash
func sep_p256_signhash(key *C.sep_buf_t, hash *C.sep_buf_t, ecdsasig *C.sep_buf_t, serr *C.sep_error_t) C.int {
	const op = enclave.OpSign
	sealed, ok := readBuf(op, "key", key, serr)
	if !ok {
		return -1
	}
	digest, ok := readBuf(op, "hash", hash, serr)
	if !ok {
		return -1
	}
	out, err := callSign(instance(), sealed, digest)
	return finish(out, err, ecdsasig, serr)
}

func generate(kind keyKind, permissions C.sep_permissions_t, key *C.sep_buf_t, serr *C.sep_error_t) C.int {
	out, err := callGenerate(instance(), kind, int(permissions))
	return finish(out, err, key, serr)
}

func publicKey(kind keyKind, op string, key, publickey *C.sep_buf_t, serr *C.sep_error_t) C.int {
	sealed, ok := readBuf(op, "key", key, serr)
	if !ok {
		return -1
	}
	out, err := callPublicKey(instance(), kind, sealed)
	return finish(out, err, publickey, serr)
}

// cBuf and cError adapt the C structs to buffer and errorSlot.
type cBuf C.sep_buf_t

func (b *cBuf) storage() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.bytes[0])), bufSize)
}

func (b *cBuf) length() uint64 { return uint64(b.len) }

func (b *cBuf) setLength(n int) { b.len = C.size_t(n) }

type cError C.sep_error_t

func (e *cError) setCode(code uint64) { e.code = C.uint64_t(code) }
func (e *cError) descriptionBuf() buffer { return (*cBuf)(&e.description) }
func (e *cError) locationBuf() buffer { return (*cBuf)(&e.location) }
func (e *cError) domainBuf() buffer { return (*cBuf)(&e.domain) }

// buf and slot keep a NULL pointer a nil interface.
func buf(p *C.sep_buf_t) buffer {
	if p == nil {
		return nil
	}
	return (*cBuf)(p)
}

func slot(p *C.sep_error_t) errorSlot {
	if p == nil {
		return nil
	}
	return (*cError)(p)
}

func finish(out []byte, err error, dst *C.sep_buf_t, serr *C.sep_error_t) C.int {
	return C.int(complete(out, err, buf(dst), slot(serr)))
}

func readBuf(op, name string, src *C.sep_buf_t, serr *C.sep_error_t) ([]byte, bool) {
	b, err := readFrom(op, name, buf(src))
	if err != nil {
		fillError(slot(serr), err)
		return nil, false
	}
	return b, true
}
