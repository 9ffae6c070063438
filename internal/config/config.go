package config

import (
	"bytes"
	_ "embed"
	"strings"

	"github.com/fatih/structs"
	"github.com/jeremywohl/flatten"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glinharesb/sep-go/internal/hsm"
)

// Backend kinds.
const (
	BackendSoftware = hsm.BackendSoftware
	BackendTPM      = hsm.BackendTPM
	BackendNone     = hsm.BackendNone
)

//go:embed defaults.yaml
var DefaultYAML []byte

type Config struct {
	Server  ServerConfig  `mapstructure:"server" structs:"server"`
	Backend BackendConfig `mapstructure:"backend" structs:"backend"`
	Audit   AuditConfig   `mapstructure:"audit" structs:"audit"`
	Log     LogConfig     `mapstructure:"log" structs:"log"`
}

type ServerConfig struct {
	Addr         string `mapstructure:"addr" structs:"addr"`
	AuthToken    string `mapstructure:"auth_token" structs:"auth_token"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps" structs:"rate_limit_rps"`
	TLSCert      string `mapstructure:"tls_cert" structs:"tls_cert"`
	TLSKey       string `mapstructure:"tls_key" structs:"tls_key"`
}

// BackendConfig selects the secure hardware module. DataDir holds the
// software module's device key; empty means an ephemeral key.
type BackendConfig struct {
	Kind      string `mapstructure:"kind" structs:"kind"`
	DataDir   string `mapstructure:"data_dir" structs:"data_dir"`
	TPMPath   string `mapstructure:"tpm_path" structs:"tpm_path"`
	OwnerAuth string `mapstructure:"owner_auth" structs:"owner_auth"`
}

type AuditConfig struct {
	Buffer int `mapstructure:"buffer" structs:"buffer"`
	// File receives JSON-lines audit entries; "-" is stdout. Empty disables the output.
	File string `mapstructure:"file" structs:"file"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" structs:"level"`
	Development bool   `mapstructure:"development" structs:"development"`
}

// Load reads config.yaml from the first of paths that has one and falls back
// to the embedded defaults when none does. Every key can be overridden from
// the environment: server.addr is SERVER_ADDR, backend.kind is BACKEND_KIND.
func Load(paths []string) (*Config, error) {
	return LoadWithEmbedded(paths, DefaultYAML)
}

func LoadWithEmbedded(paths []string, embeddedYAML []byte) (*Config, error) {
	v := viper.New()
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := bindAllConfigKeys(v); err != nil {
		return nil, err
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nfErr viper.ConfigFileNotFoundError
		if !errors.As(err, &nfErr) || len(embeddedYAML) == 0 {
			return nil, errors.Wrap(err, "read config")
		}
		if err := v.ReadConfig(bytes.NewReader(embeddedYAML)); err != nil {
			return nil, errors.Wrap(err, "failed to load embedded default config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unable to decode into struct")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Workaround for viper not seeing env vars for keys absent from the file,
// https://github.com/spf13/viper/issues/761
func bindAllConfigKeys(v *viper.Viper) error {
	flat, err := flatten.Flatten(structs.Map(Config{}), "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "unable to flatten config")
	}
	for key := range flat {
		if err := v.BindEnv(key); err != nil {
			return errors.Wrapf(err, "unable to bind env var: %s", key)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendSoftware, BackendTPM, BackendNone:
	default:
		return errors.Errorf("backend.kind %q: want %s, %s or %s", c.Backend.Kind, BackendSoftware, BackendTPM, BackendNone)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.RateLimitRPS < 0 {
		return errors.Errorf("server.rate_limit_rps %d is negative", c.Server.RateLimitRPS)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if c.Audit.Buffer <= 0 {
		return errors.Errorf("audit.buffer %d must be positive", c.Audit.Buffer)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// BackendOptions converts the backend section for hsm.Open.
func (b BackendConfig) BackendOptions(logger *zap.Logger) hsm.BackendOptions {
	return hsm.BackendOptions{
		Kind:      b.Kind,
		DataDir:   b.DataDir,
		TPMPath:   b.TPMPath,
		OwnerAuth: b.OwnerAuth,
		Logger:    logger,
	}
}

// NewLogger builds the process logger: JSON in production, console in development.
func (l LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log.level")
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
