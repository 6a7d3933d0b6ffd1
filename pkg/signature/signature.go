// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package signature verifies response signatures against the server public key.
package signature

import (
	"encoding/base64"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/purchasekit/go-response-trust/pkg/keys"
	"github.com/purchasekit/go-response-trust/pkg/message"
)

// Verifier checks a response signature.
//
// Implementations must be deterministic, must not panic and must never return an error:
// any malformed input means the signature is not valid.
type Verifier interface {
	Verify(payload, nonce []byte, requestTime int64, signature string, key keys.PublicKey) bool
}

// KeyVerifier is the Verifier which delegates the cryptographic check to the key backend.
type KeyVerifier struct {
	logger *zap.Logger
}

// NewVerifier returns a new KeyVerifier. A nil logger disables logging.
func NewVerifier(logger *zap.Logger) *KeyVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KeyVerifier{
		logger: logger,
	}
}

// Verify recomputes the canonical message from nonce, requestTime and payload
// and checks signature against it.
func (v *KeyVerifier) Verify(payload, nonce []byte, requestTime int64, signature string, key keys.PublicKey) bool {
	if keys.IsNil(key) {
		v.logger.Warn("signature verification skipped", zap.String("reason", "no public key"))

		return false
	}

	sig, err := Decode(signature)
	if err != nil {
		v.logger.Warn("signature is malformed", zap.String("key_id", key.ID()), zap.Error(err))

		return false
	}

	if err = key.Verify(message.Canonical(nonce, requestTime, payload), sig); err != nil {
		v.logger.Warn("signature is not valid",
			zap.String("key_id", key.ID()),
			zap.String("algorithm", key.Algorithm()),
			zap.Error(err),
		)

		return false
	}

	return true
}

// Verify is a shorthand for KeyVerifier.Verify without logging.
func Verify(payload, nonce []byte, requestTime int64, signature string, key keys.PublicKey) bool {
	return NewVerifier(nil).Verify(payload, nonce, requestTime, signature, key)
}

// Decode decodes the signature header value.
//
// Both padded and unpadded standard base64 are accepted.
func Decode(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty signature")
	}

	if strings.HasSuffix(value, "=") {
		return base64.StdEncoding.Strict().DecodeString(value)
	}

	return base64.RawStdEncoding.Strict().DecodeString(value)
}
