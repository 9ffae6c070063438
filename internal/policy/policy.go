// Package policy maps the five access levels a caller may request onto the
// descriptor a hardware module enforces every time the key is used.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConstructionFailed is returned when a level cannot be turned into a
// descriptor the platform is able to enforce.
var ErrConstructionFailed = errors.New("policy: access control construction failed")

// Level is the caller-facing permission level. Levels are exclusive and must
// never be combined.
type Level int

const (
	// NeedsUnlockOnce requires the device to have been unlocked once since boot.
	NeedsUnlockOnce Level = iota + 1
	// NeedsUnlock requires the device to be unlocked at the time of use.
	NeedsUnlock
	// NeedsInteractiveAuth requires the user to authenticate for each use.
	NeedsInteractiveAuth
	// NeedsBiometry requires any enrolled biometric for each use.
	NeedsBiometry
	// NeedsSameBiometry requires the biometric set enrolled when the key was created.
	NeedsSameBiometry
)

func (l Level) String() string {
	switch l {
	case NeedsUnlockOnce:
		return "NEEDS_UNLOCK_ONCE"
	case NeedsUnlock:
		return "NEEDS_UNLOCK"
	case NeedsInteractiveAuth:
		return "NEEDS_INTERACTIVE_AUTH"
	case NeedsBiometry:
		return "NEEDS_BIOMETRY"
	case NeedsSameBiometry:
		return "NEEDS_SAME_BIOMETRY"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Levels returns every defined level in ascending order.
func Levels() []Level {
	return []Level{NeedsUnlockOnce, NeedsUnlock, NeedsInteractiveAuth, NeedsBiometry, NeedsSameBiometry}
}

// Protection is the availability class of a key.
type Protection uint8

const (
	AfterFirstUnlockThisDeviceOnly Protection = iota + 1
	WhenUnlockedThisDeviceOnly
)

func (p Protection) String() string {
	switch p {
	case AfterFirstUnlockThisDeviceOnly:
		return "AFTER_FIRST_UNLOCK_THIS_DEVICE_ONLY"
	case WhenUnlockedThisDeviceOnly:
		return "WHEN_UNLOCKED_THIS_DEVICE_ONLY"
	default:
		return "UNKNOWN"
	}
}

// Proof is a set of proof-of-presence requirements, all of which must hold.
type Proof uint8

const (
	PrivateKeyUsage Proof = 1 << iota
	UserPresence
	BiometryAny
	BiometryCurrentSet
)

// Has reports whether every flag in f is set in p.
func (p Proof) Has(f Proof) bool {
	return p&f == f
}

func (p Proof) String() string {
	var parts []string
	for _, f := range []struct {
		flag Proof
		name string
	}{
		{PrivateKeyUsage, "PRIVATE_KEY_USAGE"},
		{UserPresence, "USER_PRESENCE"},
		{BiometryAny, "BIOMETRY_ANY"},
		{BiometryCurrentSet, "BIOMETRY_CURRENT_SET"},
	} {
		if p.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Descriptor is the hardware-enforceable form of a Level.
type Descriptor struct {
	Level      Level
	Protection Protection
	Proof      Proof
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s, %s)", d.Level, d.Protection, d.Proof)
}

// Platform reports whether it can enforce a descriptor. Hardware providers
// implement it; a non-nil error means the descriptor cannot be materialized.
type Platform interface {
	Materialize(d Descriptor) error
}

var table = map[Level]Descriptor{
	NeedsUnlockOnce:      {NeedsUnlockOnce, AfterFirstUnlockThisDeviceOnly, PrivateKeyUsage},
	NeedsUnlock:          {NeedsUnlock, WhenUnlockedThisDeviceOnly, PrivateKeyUsage},
	NeedsInteractiveAuth: {NeedsInteractiveAuth, WhenUnlockedThisDeviceOnly, PrivateKeyUsage | UserPresence},
	NeedsBiometry:        {NeedsBiometry, WhenUnlockedThisDeviceOnly, PrivateKeyUsage | BiometryAny},
	NeedsSameBiometry:    {NeedsSameBiometry, WhenUnlockedThisDeviceOnly, PrivateKeyUsage | BiometryCurrentSet},
}

// Describe returns the descriptor for level without consulting any platform.
func Describe(level Level) (Descriptor, error) {
	d, ok := table[level]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: no descriptor for %s", ErrConstructionFailed, level)
	}
	return d, nil
}

// Resolve maps level to its descriptor and asks platform to materialize it.
// There is no fallback: if the platform refuses, resolution fails.
func Resolve(level Level, platform Platform) (Descriptor, error) {
	d, err := Describe(level)
	if err != nil {
		return Descriptor{}, err
	}
	if platform == nil {
		return d, nil
	}
	if err := platform.Materialize(d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %w", ErrConstructionFailed, d, err)
	}
	return d, nil
}
