// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package keys loads the server verification key from certificate bytes.
package keys

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"reflect"
)

// ErrInvalidKey is returned when the key material is empty or can not be parsed.
var ErrInvalidKey = errors.New("invalid key")

// PEM block types accepted by Load.
const (
	certificateBlockType = "CERTIFICATE"
	publicKeyBlockType   = "PUBLIC KEY"
)

var pgpArmorHeader = []byte("-----BEGIN PGP ")

// PublicKey is a parsed, immutable server verification key.
type PublicKey interface {
	// Verify returns nil if signature is a valid signature of data.
	Verify(data, signature []byte) error
	// ID returns the fingerprint of the key.
	ID() string
	// Algorithm returns the signature algorithm name.
	Algorithm() string
}

// IsNil reports whether key is nil, including a nil pointer stored in the interface.
func IsNil(key PublicKey) bool {
	if key == nil {
		return true
	}

	v := reflect.ValueOf(key)

	switch v.Kind() { //nolint:exhaustive
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

// Load parses the key material.
//
// Accepted encodings are a DER or PEM X.509 certificate, a DER or PEM PKIX public key,
// and an armored OpenPGP key (only its public part is kept). Ed25519 and ECDSA keys
// are supported for X.509.
func Load(data []byte) (PublicKey, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrInvalidKey)
	}

	if bytes.HasPrefix(data, pgpArmorHeader) {
		key, err := newPGPKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}

		return key, nil
	}

	key, err := parseX509(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	return key, nil
}

// MustLoad is like Load but panics on error.
func MustLoad(data []byte) PublicKey {
	key, err := Load(data)
	if err != nil {
		panic(err)
	}

	return key
}

func parseX509(data []byte) (PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		switch block.Type {
		case certificateBlockType:
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, err
			}

			return fromCryptoKey(cert.PublicKey)
		case publicKeyBlockType:
			key, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, err
			}

			return fromCryptoKey(key)
		default:
			return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
		}
	}

	// raw DER
	cert, certErr := x509.ParseCertificate(data)
	if certErr == nil {
		return fromCryptoKey(cert.PublicKey)
	}

	key, err := x509.ParsePKIXPublicKey(data)
	if err != nil {
		return nil, errors.Join(certErr, err)
	}

	return fromCryptoKey(key)
}

func fromCryptoKey(key any) (PublicKey, error) {
	switch k := key.(type) {
	case ed25519.PublicKey:
		return NewEd25519Key(k)
	case *ecdsa.PublicKey:
		return NewEcdsaKey(k)
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}
