package main

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/policy"
)

const (
	kindAgreement = "agreement"
	kindSigning   = "signing"
)

func checkKind(kind string) error {
	if kind != kindAgreement && kind != kindSigning {
		return errors.Errorf("--kind %q: want %s or %s", kind, kindAgreement, kindSigning)
	}
	return nil
}

func parseLevel(n int) (policy.Level, error) {
	for _, l := range policy.Levels() {
		if int(l) == n {
			return l, nil
		}
	}
	return 0, errors.Errorf("--level %d: want 1..%d", n, len(policy.Levels()))
}

// readSealed loads a sealed key written by keygen: raw bytes, or base64 text.
func readSealed(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("--key is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read sealed key")
	}
	if dec, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b))); err == nil && len(dec) > 0 {
		return dec, nil
	}
	return b, nil
}

func writeSealed(w io.Writer, path string, sealed []byte) error {
	if path == "" {
		_, err := fmt.Fprintln(w, base64.StdEncoding.EncodeToString(sealed))
		return err
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return errors.Wrap(err, "write sealed key")
	}
	return nil
}

func decodeHex(flag, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "--%s", flag)
	}
	return b, nil
}

// hashByName maps "sha256"-style names to the hash of each digest variant.
func hashByName(name string) (crypto.Hash, error) {
	var names []string
	for _, v := range digest.Variants() {
		h := v.Hash()
		n := strings.ToLower(strings.ReplaceAll(h.String(), "-", ""))
		if n == strings.ToLower(name) {
			return h, nil
		}
		names = append(names, n)
	}
	return 0, errors.Errorf("--hash %q: want one of %s", name, strings.Join(names, ", "))
}

// loadDigest returns the digest given as hex, or hashes the file at path.
func loadDigest(hexDigest, path, hashName string) ([]byte, error) {
	switch {
	case hexDigest != "" && path != "":
		return nil, errors.New("--digest and --in are mutually exclusive")
	case hexDigest != "":
		return decodeHex("digest", hexDigest)
	case path != "":
		h, err := hashByName(hashName)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open input")
		}
		defer f.Close()
		hh := h.New()
		if _, err := io.Copy(hh, f); err != nil {
			return nil, errors.Wrap(err, "hash input")
		}
		return hh.Sum(nil), nil
	default:
		return nil, errors.New("one of --digest or --in is required")
	}
}
