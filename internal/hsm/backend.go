package hsm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/glinharesb/sep-go/internal/crypto"
)

// Backend names accepted by Open.
const (
	BackendSoftware = "software"
	BackendTPM      = "tpm"
	BackendNone     = "none"
)

type BackendOptions struct {
	Kind string
	// DataDir persists the software module's device key. Empty means an
	// ephemeral key whose sealed keys die with the process.
	DataDir   string
	TPMPath   string
	OwnerAuth string
	Logger    *zap.Logger
}

// Open builds the provider named by o.Kind.
func Open(o BackendOptions) (Provider, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch o.Kind {
	case BackendSoftware, "":
		if o.DataDir == "" {
			logger.Warn("software module with ephemeral device key; sealed keys will not survive a restart")
			return NewEphemeralSoftwareHSM()
		}
		dk, err := LoadOrCreateDeviceKey(o.DataDir, logger)
		if err != nil {
			return nil, err
		}
		defer crypto.Zero(dk.RootKey)
		return NewSoftwareHSM(dk.RootKey)
	case BackendTPM:
		return NewTPM(o.TPMPath, o.OwnerAuth, logger), nil
	case BackendNone:
		return Unavailable{}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", o.Kind)
	}
}
