// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"bytes"
	"encoding/base64"
	"strconv"
)

// Canonical returns the bytes covered by a response signature.
//
// The layout is:
//
//	base64(nonce) "\n" requestTime "\n" payload
//
// where payload is the response body, or the ETag for "not modified" responses.
// Neither the encoded nonce nor the decimal request time may contain a newline,
// so the payload is the unambiguous remainder.
func Canonical(nonce []byte, requestTime int64, payload []byte) []byte {
	encodedNonce := base64.StdEncoding.EncodeToString(nonce)
	requestTimeStr := strconv.FormatInt(requestTime, 10)

	var buf bytes.Buffer

	buf.Grow(len(encodedNonce) + len(requestTimeStr) + len(payload) + 2)

	buf.WriteString(encodedNonce)
	buf.WriteByte('\n')
	buf.WriteString(requestTimeStr)
	buf.WriteByte('\n')
	buf.Write(payload)

	return buf.Bytes()
}
