package hsm

import (
	"testing"

	"github.com/glinharesb/sep-go/internal/digest"
	"github.com/glinharesb/sep-go/internal/policy"
)

func TestOpenBackends(t *testing.T) {
	cases := map[string]func(Provider) bool{
		BackendSoftware: func(p Provider) bool { _, ok := p.(*SoftwareHSM); return ok },
		"":              func(p Provider) bool { _, ok := p.(*SoftwareHSM); return ok },
		BackendTPM:      func(p Provider) bool { _, ok := p.(*TPM); return ok },
		BackendNone:     func(p Provider) bool { _, ok := p.(Unavailable); return ok },
	}
	for kind, check := range cases {
		p, err := Open(BackendOptions{Kind: kind})
		if err != nil {
			t.Fatalf("%q: %v", kind, err)
		}
		if !check(p) {
			t.Fatalf("%q: unexpected provider %T", kind, p)
		}
	}
	if _, err := Open(BackendOptions{Kind: "pkcs11"}); err == nil {
		t.Fatal("unknown backend should fail")
	}
}

func TestOpenPersistentSoftware(t *testing.T) {
	dir := t.TempDir()
	desc, _ := policy.Describe(policy.NeedsUnlockOnce)

	p1, err := Open(BackendOptions{Kind: BackendSoftware, DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := p1.GenerateKey(KindSigning, desc)
	if err != nil {
		t.Fatal(err)
	}

	p2, err := Open(BackendOptions{Kind: BackendSoftware, DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	d, _ := digest.Resolve(make([]byte, 32))
	if _, err := p2.Sign(sealed, d); err != nil {
		t.Fatalf("reopened module rejected its own sealed key: %v", err)
	}
}
