// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package verification

import (
	"errors"
	"fmt"
	"strings"

	"github.com/purchasekit/go-response-trust/pkg/keys"
)

// Level is the enforcement level of a Mode.
type Level int

// Levels in increasing order of strictness.
const (
	LevelDisabled Level = iota
	LevelInformational
	LevelEnforced
)

func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return "disabled"
	case LevelInformational:
		return "informational"
	case LevelEnforced:
		return "enforced"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel parses the level name.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "disabled":
		return LevelDisabled, nil
	case "informational":
		return LevelInformational, nil
	case "enforced":
		return LevelEnforced, nil
	default:
		return LevelDisabled, fmt.Errorf("unknown verification mode %q", name)
	}
}

// Mode is the verification mode: disabled, informational(key) or enforced(key).
//
// Modes are only built by Disabled, Informational and Enforced, so an informational
// or enforced mode always carries a key.
type Mode interface {
	fmt.Stringer

	// Level returns the enforcement level.
	Level() Level
	// Key returns the verification key, nil when disabled.
	Key() keys.PublicKey

	mode()
}

// ErrNilKey is returned when an informational or enforced mode is built without a key.
var ErrNilKey = errors.New("verification mode requires a public key")

type disabled struct{}

func (disabled) Level() Level        { return LevelDisabled }
func (disabled) Key() keys.PublicKey { return nil }
func (disabled) String() string      { return LevelDisabled.String() }
func (disabled) mode()               {}

type keyed struct {
	key   keys.PublicKey
	level Level
}

func (m keyed) Level() Level        { return m.level }
func (m keyed) Key() keys.PublicKey { return m.key }
func (m keyed) String() string      { return fmt.Sprintf("%s(%s)", m.level, m.key.ID()) }
func (keyed) mode()                 {}

// Disabled returns the mode in which verification is never attempted.
func Disabled() Mode {
	return disabled{}
}

// Informational returns the mode in which verification failures are reported but never block.
func Informational(key keys.PublicKey) (Mode, error) {
	return newKeyed(key, LevelInformational)
}

// Enforced returns the mode in which verification failures abort the call.
func Enforced(key keys.PublicKey) (Mode, error) {
	return newKeyed(key, LevelEnforced)
}

// NewMode builds the mode of the given level, loading the key from certificate bytes.
//
// Key loading errors wrap keys.ErrInvalidKey and are returned immediately.
func NewMode(level Level, certificate []byte) (Mode, error) {
	if level == LevelDisabled {
		return Disabled(), nil
	}

	key, err := keys.Load(certificate)
	if err != nil {
		return nil, err
	}

	return newKeyed(key, level)
}

// IsEnabled reports whether the mode attempts verification.
func IsEnabled(m Mode) bool {
	return m != nil && m.Level() != LevelDisabled
}

func newKeyed(key keys.PublicKey, level Level) (Mode, error) {
	if keys.IsNil(key) {
		return nil, ErrNilKey
	}

	return keyed{key: key, level: level}, nil
}
