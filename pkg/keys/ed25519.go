// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// Ed25519Key represents a public ed25519 key.
type Ed25519Key struct {
	key ed25519.PublicKey
	id  string
}

// NewEd25519Key returns a new Ed25519Key.
func NewEd25519Key(key ed25519.PublicKey) (*Ed25519Key, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key size %d", len(key))
	}

	return &Ed25519Key{
		key: key,
		id:  fingerprint(key),
	}, nil
}

// ID returns the fingerprint of the key.
func (p *Ed25519Key) ID() string {
	return p.id
}

// Algorithm implements PublicKey.
func (p *Ed25519Key) Algorithm() string {
	return "ed25519"
}

// Verify verifies the signature of the given data using the public key.
func (p *Ed25519Key) Verify(data, signature []byte) error {
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("invalid ed25519 signature size %d", len(signature))
	}

	if !ed25519.Verify(p.key, data, signature) {
		return errors.New("ed25519 signature mismatch")
	}

	return nil
}
