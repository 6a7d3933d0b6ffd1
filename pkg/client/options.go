// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package client

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/purchasekit/go-response-trust/pkg/cache"
	"github.com/purchasekit/go-response-trust/pkg/retry"
	"github.com/purchasekit/go-response-trust/pkg/trust"
)

// Doer performs a single HTTP exchange, *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures the Client.
type Option func(*Client)

// WithDoer sets the HTTP transport, http.DefaultClient is used by default.
func WithDoer(doer Doer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithEvaluator sets the response trust evaluator.
func WithEvaluator(evaluator *trust.Evaluator) Option {
	return func(c *Client) {
		c.evaluator = evaluator
	}
}

// WithCache sets the ETag cache.
func WithCache(etags *cache.ETagCache) Option {
	return func(c *Client) {
		c.etags = etags
	}
}

// WithRateLimit paces the attempts, requestsPerMinute of 0 means unlimited.
func WithRateLimit(requestsPerMinute int) Option {
	return func(c *Client) {
		if requestsPerMinute <= 0 {
			c.limiter = nil

			return
		}

		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMaxBodySize limits the size of response bodies, larger responses fail with ErrResponseTooLarge.
func WithMaxBodySize(size int64) Option {
	return func(c *Client) {
		if size > 0 {
			c.maxBody = size
		}
	}
}
