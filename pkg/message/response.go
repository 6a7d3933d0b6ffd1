// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"net/http"
	"strings"
)

// Response is a raw backend response as returned by the transport.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// Signature returns the raw signature header value.
func (r *Response) Signature() (string, error) {
	value := strings.TrimSpace(HeaderValue(r.Header, SignatureHeaderKey))
	if value == "" {
		return "", ErrMissingSignature
	}

	return value, nil
}

// RequestTime returns the request time echoed by the server.
func (r *Response) RequestTime() (int64, error) {
	return parseRequestTime(HeaderValue(r.Header, RequestTimeHeaderKey))
}

// ETag returns the ETag header value, if any.
func (r *Response) ETag() string {
	return HeaderValue(r.Header, ETagHeaderKey)
}

// NotModified reports whether the response is a "not modified" response without a body.
func (r *Response) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}
