// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NonceSize is the size of the freshness token in bytes.
const NonceSize = 12

// NewNonce generates a new random freshness token.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)

	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, nil
}

// EncodeNonce encodes the nonce for the request header.
func EncodeNonce(nonce []byte) string {
	return base64.StdEncoding.EncodeToString(nonce)
}

// DecodeNonce decodes the nonce from the request header.
func DecodeNonce(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(value)
}
