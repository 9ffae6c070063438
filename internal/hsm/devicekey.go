package hsm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glinharesb/sep-go/internal/crypto"
)

// DeviceKeyFile is the file name of the software module's root key inside its data directory.
const DeviceKeyFile = "device.key"

// persistedDeviceKey is the JSON form of the software module's root key.
type persistedDeviceKey struct {
	Version   int       `json:"version"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	RootKey   []byte    `json:"root_key"`
}

// DeviceKey is the root secret of a software module. Sealed keys produced
// under one DeviceKey are rejected by a module holding another.
type DeviceKey struct {
	ID      string
	RootKey []byte
}

// LoadOrCreateDeviceKey reads the root key from dir, creating it on first
// use. The file is written to a temp path then atomically renamed.
func LoadOrCreateDeviceKey(dir string, logger *zap.Logger) (*DeviceKey, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := filepath.Join(dir, DeviceKeyFile)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		dk, err := loadDeviceKey(path)
		if err != nil {
			return nil, fmt.Errorf("load device key: %w", err)
		}
		logger.Info("device key loaded", zap.String("device_id", dk.ID), zap.String("path", path))
		return dk, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat device key: %w", err)
	}

	root, err := crypto.GenerateWrapKey()
	if err != nil {
		return nil, err
	}
	dk := &DeviceKey{ID: uuid.NewString(), RootKey: root}
	if err := saveDeviceKey(path, dk); err != nil {
		return nil, err
	}
	logger.Info("device key created", zap.String("device_id", dk.ID), zap.String("path", path))
	return dk, nil
}

func saveDeviceKey(path string, dk *DeviceKey) error {
	data, err := json.MarshalIndent(persistedDeviceKey{
		Version:   1,
		DeviceID:  dk.ID,
		CreatedAt: time.Now().UTC(),
		RootKey:   dk.RootKey,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func loadDeviceKey(path string) (*DeviceKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var pk persistedDeviceKey
	if err := json.Unmarshal(data, &pk); err != nil {
		return nil, fmt.Errorf("unmarshal json: %w", err)
	}
	if pk.Version != 1 {
		return nil, fmt.Errorf("unsupported device key version: %d", pk.Version)
	}
	if len(pk.RootKey) != crypto.WrapKeySize {
		return nil, fmt.Errorf("device key has %d bytes, want %d", len(pk.RootKey), crypto.WrapKeySize)
	}
	return &DeviceKey{ID: pk.DeviceID, RootKey: pk.RootKey}, nil
}
