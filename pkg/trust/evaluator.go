// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package trust evaluates whether a backend response can be trusted.
package trust

import (
	"go.uber.org/zap"

	"github.com/purchasekit/go-response-trust/pkg/keys"
	"github.com/purchasekit/go-response-trust/pkg/message"
	"github.com/purchasekit/go-response-trust/pkg/signature"
	"github.com/purchasekit/go-response-trust/pkg/verification"
)

// Evaluator turns one response into a verification.Result.
//
// Evaluator is stateless and safe for concurrent use.
type Evaluator struct {
	verifier signature.Verifier
	logger   *zap.Logger
}

// Option configures the Evaluator.
type Option func(*Evaluator)

// WithVerifier overrides the signature verifier.
func WithVerifier(verifier signature.Verifier) Option {
	return func(e *Evaluator) {
		e.verifier = verifier
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{}

	for _, o := range opts {
		o(e)
	}

	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	if e.verifier == nil {
		e.verifier = signature.NewVerifier(e.logger)
	}

	return e
}

// Exchange is a single request/response pair to be evaluated.
type Exchange struct {
	Response *message.Response

	// Path is the request path, used for diagnostics.
	Path string

	// KnownETag is the ETag of the cached resource offered with the request.
	KnownETag string

	// Nonce is the freshness token attached to the request, nil if none was sent.
	Nonce []byte
}

// Evaluate evaluates the exchange under the given mode.
//
// The checks run in order: verification preconditions (nonce and key), signature header,
// request time header, then the cryptographic check. Structural problems are logged
// separately from invalid signatures.
func (e *Evaluator) Evaluate(mode verification.Mode, exchange Exchange) verification.Result {
	logger := e.logger.With(zap.String("path", exchange.Path))

	var key keys.PublicKey

	if mode != nil {
		key = mode.Key()
	}

	if len(exchange.Nonce) == 0 || keys.IsNil(key) {
		return verification.NotVerified
	}

	resp := exchange.Response
	if resp == nil {
		logger.Warn("response verification failed", zap.String("reason", "no response"))

		return verification.Failed
	}

	sig, err := resp.Signature()
	if err != nil {
		logger.Warn("response protocol violation", zap.String("reason", "missing signature header"), zap.Error(err))

		return verification.Failed
	}

	requestTime, err := resp.RequestTime()
	if err != nil {
		logger.Warn("response protocol violation", zap.String("reason", "missing or invalid request time header"), zap.Error(err))

		return verification.Failed
	}

	payload := resp.Body

	if resp.NotModified() {
		etag := exchange.KnownETag
		if etag == "" {
			etag = resp.ETag()
		}

		if etag == "" {
			logger.Warn("response protocol violation", zap.String("reason", "no etag for not modified response"))

			return verification.Failed
		}

		payload = []byte(etag)
	}

	if !e.verifier.Verify(payload, exchange.Nonce, requestTime, sig, key) {
		logger.Warn("response verification failed", zap.String("reason", "invalid signature"), zap.Int("status", resp.StatusCode))

		return verification.Failed
	}

	logger.Debug("response verified", zap.Int("status", resp.StatusCode))

	return verification.Verified
}
