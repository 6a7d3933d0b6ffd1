// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package message contains the wire-level details of signed backend responses.
package message

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Response headers consumed by the trust layer.
const (
	// SignatureHeaderKey is the header name for the response signature.
	SignatureHeaderKey = "signature"

	// RequestTimeHeaderKey is the header name for the request time echoed by the server.
	RequestTimeHeaderKey = "request-time"

	// ETagHeaderKey is the header name for the cache validator.
	ETagHeaderKey = "etag"

	// IsRetryableHeaderKey is the header name for the server retryability hint.
	IsRetryableHeaderKey = "is-retryable"
)

// Request headers set by the client.
const (
	// NonceHeaderKey is the header name for the base64 encoded freshness token.
	NonceHeaderKey = "x-nonce"

	// IfNoneMatchHeaderKey is the header name carrying the cached ETag.
	IfNoneMatchHeaderKey = "if-none-match"

	// RetryCountHeaderKey is the header name for the retry number of the attempt.
	RetryCountHeaderKey = "x-retry-count"

	// RequestIDHeaderKey is the header name for the logical request id.
	RequestIDHeaderKey = "x-request-id"
)

var (
	// ErrNotFound is returned when a header is not found.
	ErrNotFound = errors.New("not found")

	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = fmt.Errorf("%w: %s", ErrNotFound, SignatureHeaderKey)

	// ErrMissingRequestTime is returned when the request time header is absent.
	ErrMissingRequestTime = fmt.Errorf("%w: %s", ErrNotFound, RequestTimeHeaderKey)

	// ErrInvalidRequestTime is returned when the request time header is not an integer.
	ErrInvalidRequestTime = errors.New("invalid request time")
)

// HeaderValue returns the first value of the header, looking the name up case-insensitively.
//
// http.Header.Get only matches canonical keys, headers converted from other transports
// (e.g. gRPC metadata) might not be canonicalized.
func HeaderValue(h http.Header, name string) string {
	if h == nil {
		return ""
	}

	if v := h.Get(name); v != "" {
		return v
	}

	for key, values := range h {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}

	return ""
}

// IsRetryable reports the server retryability hint.
//
// Only an explicit false value disables retries, absent or unparseable values mean true.
func IsRetryable(h http.Header) bool {
	value := strings.TrimSpace(HeaderValue(h, IsRetryableHeaderKey))
	if value == "" {
		return true
	}

	retryable, err := strconv.ParseBool(value)
	if err != nil {
		return true
	}

	return retryable
}

func parseRequestTime(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrMissingRequestTime
	}

	requestTime, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRequestTime, value)
	}

	return requestTime, nil
}
