package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	c, err := Load([]string{t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":50051" {
		t.Fatalf("addr = %q", c.Server.Addr)
	}
	if c.Backend.Kind != BackendSoftware {
		t.Fatalf("backend = %q", c.Backend.Kind)
	}
	if c.Audit.Buffer != 1024 || c.Server.RateLimitRPS != 100 {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  addr: \"127.0.0.1:7000\"\nbackend:\n  kind: none\naudit:\n  buffer: 8\nlog:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load([]string{dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != "127.0.0.1:7000" || c.Backend.Kind != BackendNone || c.Audit.Buffer != 8 {
		t.Fatalf("file values not applied: %+v", c)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BACKEND_KIND", "tpm")
	t.Setenv("BACKEND_TPM_PATH", "/dev/tpmrm0")
	t.Setenv("SERVER_RATE_LIMIT_RPS", "5")

	c, err := Load([]string{t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Backend.Kind != BackendTPM || c.Backend.TPMPath != "/dev/tpmrm0" || c.Server.RateLimitRPS != 5 {
		t.Fatalf("env not applied: %+v", c.Backend)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:  ServerConfig{Addr: ":1"},
			Backend: BackendConfig{Kind: BackendSoftware},
			Audit:   AuditConfig{Buffer: 1},
			Log:     LogConfig{Level: "info"},
		}
	}
	if c := base(); c.Validate() != nil {
		t.Fatal("base config should be valid")
	}

	cases := map[string]func(*Config){
		"backend":   func(c *Config) { c.Backend.Kind = "pkcs11" },
		"addr":      func(c *Config) { c.Server.Addr = "" },
		"rate":      func(c *Config) { c.Server.RateLimitRPS = -1 },
		"tls pair":  func(c *Config) { c.Server.TLSCert = "cert.pem" },
		"buffer":    func(c *Config) { c.Audit.Buffer = 0 },
		"log level": func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		c := base()
		mutate(&c)
		if c.Validate() == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNewLogger(t *testing.T) {
	for _, dev := range []bool{false, true} {
		l, err := LogConfig{Level: "warn", Development: dev}.NewLogger()
		if err != nil {
			t.Fatalf("development=%v: %v", dev, err)
		}
		if l.Core().Enabled(zapcore.DebugLevel) {
			t.Fatal("debug enabled at warn level")
		}
	}
}
