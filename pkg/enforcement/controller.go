// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package enforcement applies the verification mode to verification results.
package enforcement

import (
	"go.uber.org/zap"

	"github.com/purchasekit/go-response-trust/pkg/verification"
)

// Outcome is the decision for a single response: proceed with Result, or abort with Err.
type Outcome struct {
	Err    error
	Result verification.Result
}

// Aborted reports whether the call must fail.
func (o Outcome) Aborted() bool {
	return o.Err != nil
}

// Decide applies mode to the result of evaluating the response for path.
//
//   - disabled: always proceeds as NotVerified;
//   - informational: always proceeds with the result;
//   - enforced: aborts on Failed, proceeds otherwise (an unexpected NotVerified means the
//     server did not sign the exchange and is tolerated).
func Decide(mode verification.Mode, path string, result verification.Result) Outcome {
	if !verification.IsEnabled(mode) {
		return Outcome{Result: verification.NotVerified}
	}

	if mode.Level() == verification.LevelEnforced && result == verification.Failed {
		return Outcome{
			Result: result,
			Err:    &SignatureVerificationFailedError{Path: path},
		}
	}

	return Outcome{Result: result}
}

// RequiresInvalidation reports whether switching from one mode to another raises the trust bar
// above the level cached entries were stored with.
//
// Only enabling verification invalidates: informational and enforced share the same
// verification, and downgrading is always safe for existing data.
func RequiresInvalidation(from, to verification.Mode) bool {
	return !verification.IsEnabled(from) && verification.IsEnabled(to)
}

// Invalidator is a response cache which can drop entries stored without a verified tag.
type Invalidator interface {
	InvalidateUnverified() int
}

// Controller holds the current verification mode.
//
// Controller is safe for concurrent use. A response is evaluated under the mode returned
// by Mode when the response arrived: a concurrent SetMode does not affect it.
type Controller struct {
	logger *zap.Logger
	// guarded by the state write lock
	invalidators []Invalidator
	state        modeState
}

// Option configures the Controller.
type Option func(*Controller)

// WithInvalidator registers a cache to invalidate when verification gets enabled.
func WithInvalidator(invalidator Invalidator) Option {
	return func(c *Controller) {
		c.invalidators = append(c.invalidators, invalidator)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a new Controller. A nil mode means disabled.
func NewController(mode verification.Mode, opts ...Option) *Controller {
	if mode == nil {
		mode = verification.Disabled()
	}

	c := &Controller{
		state: modeState{mode: mode},
	}

	for _, o := range opts {
		o(c)
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	return c
}

// AddInvalidator registers a cache to invalidate when verification gets enabled.
func (c *Controller) AddInvalidator(invalidator Invalidator) {
	c.state.write(func(mode verification.Mode) verification.Mode {
		c.invalidators = append(c.invalidators, invalidator)

		return mode
	})
}

// Mode returns the current mode.
func (c *Controller) Mode() verification.Mode {
	return c.state.read()
}

// Evaluate applies the current mode to result.
func (c *Controller) Evaluate(path string, result verification.Result) Outcome {
	return Decide(c.Mode(), path, result)
}

// SetMode switches the mode, invalidating caches when the trust bar is raised.
//
// The mode switch and the invalidation are atomic with respect to Mode.
// SetMode returns the number of invalidated cache entries.
func (c *Controller) SetMode(mode verification.Mode) int {
	if mode == nil {
		mode = verification.Disabled()
	}

	invalidated := 0

	c.state.write(func(previous verification.Mode) verification.Mode {
		if RequiresInvalidation(previous, mode) {
			for _, invalidator := range c.invalidators {
				invalidated += invalidator.InvalidateUnverified()
			}
		}

		c.logger.Info("verification mode changed",
			zap.Stringer("from", previous),
			zap.Stringer("to", mode),
			zap.Int("invalidated", invalidated),
		)

		return mode
	})

	return invalidated
}
