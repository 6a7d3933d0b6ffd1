// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"

	"go.uber.org/zap"

	"github.com/purchasekit/go-response-trust/pkg/cache"
	"github.com/purchasekit/go-response-trust/pkg/client"
	"github.com/purchasekit/go-response-trust/pkg/enforcement"
	"github.com/purchasekit/go-response-trust/pkg/retry"
)

// RetryPolicy builds the configured retry policy.
func (c *Config) RetryPolicy(logger *zap.Logger) *retry.Policy {
	opts := []retry.Option{retry.WithLogger(logger)}

	if c.Retry.MaxRetries != nil {
		opts = append(opts, retry.WithMaxRetries(*c.Retry.MaxRetries))
	}

	if c.Retry.BaseDelay > 0 || c.Retry.MaxDelay > 0 {
		baseDelay, maxDelay := c.Retry.BaseDelay, c.Retry.MaxDelay

		if baseDelay == 0 {
			baseDelay = retry.DefaultBaseDelay
		}

		if maxDelay == 0 {
			maxDelay = max(retry.DefaultMaxDelay, baseDelay)
		}

		opts = append(opts, retry.WithBackoff(baseDelay, maxDelay))
	}

	return retry.NewPolicy(opts...)
}

// NewClient validates the configuration and builds the client.
//
// Options passed in opts are applied after the configured ones.
func (c *Config) NewClient(logger *zap.Logger, opts ...client.Option) (*client.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.BaseURL == "" {
		return nil, errors.New("base_url is required")
	}

	mode, err := c.VerificationMode()
	if err != nil {
		return nil, err
	}

	controller := enforcement.NewController(mode, enforcement.WithLogger(logger))

	clientOpts := append([]client.Option{
		client.WithLogger(logger),
		client.WithRetryPolicy(c.RetryPolicy(logger)),
		client.WithCache(cache.NewETagCache(c.Cache.TTL)),
		client.WithRateLimit(c.RateLimit.RequestsPerMinute),
	}, opts...)

	return client.New(c.BaseURL, controller, clientOpts...)
}
