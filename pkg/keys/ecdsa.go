// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
)

// EcdsaKey represents a public ecdsa key.
type EcdsaKey struct {
	key *ecdsa.PublicKey
	id  string
}

// NewEcdsaKey returns a new EcdsaKey.
func NewEcdsaKey(key *ecdsa.PublicKey) (*EcdsaKey, error) {
	publicKeyBytes, err := key.Bytes()
	if err != nil {
		return nil, err
	}

	return &EcdsaKey{
		key: key,
		id:  fingerprint(publicKeyBytes),
	}, nil
}

// ID returns the fingerprint of the key.
func (p *EcdsaKey) ID() string {
	return p.id
}

// Algorithm implements PublicKey.
func (p *EcdsaKey) Algorithm() string {
	return "ecdsa-sha256"
}

// Verify verifies the signature of the given data using the public key.
// The signature is accepted either in r||s format or ASN.1 DER encoded.
func (p *EcdsaKey) Verify(data, signature []byte) error {
	hash := sha256.Sum256(data)

	size := (p.key.Curve.Params().BitSize + 7) / 8

	if len(signature) == 2*size {
		r := new(big.Int).SetBytes(signature[:size])
		s := new(big.Int).SetBytes(signature[size:])

		if !ecdsa.Verify(p.key, hash[:], r, s) {
			return errors.New("ecdsa signature mismatch")
		}

		return nil
	}

	if !ecdsa.VerifyASN1(p.key, hash[:], signature) {
		return errors.New("ecdsa signature mismatch")
	}

	return nil
}

func fingerprint(publicKeyBytes []byte) string {
	sum := sha256.Sum256(publicKeyBytes)

	return base64.URLEncoding.EncodeToString(sum[:])
}
