// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package retry implements bounded retries of recoverable server failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/purchasekit/go-response-trust/pkg/message"
)

// Policy defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// Attempt describes the attempt being executed.
type Attempt struct {
	// Number is the 1-based attempt number.
	Number int
	// LastStatus is the status code of the previous attempt, zero on the first one.
	LastStatus int
	// Retryable is the retryability hint of the previous attempt.
	Retryable bool
}

// IsRetry reports whether the attempt is a retry.
func (a Attempt) IsRetry() bool {
	return a.Number > 1
}

// Status is what an attempt observed from the server.
type Status struct {
	Header http.Header
	Code   int
}

// Func executes one attempt.
//
// Errors returned by Func are returned by Do as is, without retrying, unless they wrap
// ErrRetryImmediately: such an attempt is repeated without waiting while attempts remain.
type Func[T any] func(ctx context.Context, attempt Attempt) (T, Status, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy retries recoverable statuses with an exponential backoff.
//
// Policy holds no per-request state: every Do call has its own attempt counter.
type Policy struct {
	recoverable map[int]struct{}
	logger      *zap.Logger
	sleep       SleepFunc
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Option configures the Policy.
type Option func(*Policy)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(maxRetries int) Option {
	return func(p *Policy) {
		p.maxRetries = max(maxRetries, 0)
	}
}

// WithBackoff sets the delay before the first retry and the maximum delay.
// A zero maxDelay leaves the delay uncapped.
func WithBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(p *Policy) {
		p.baseDelay = baseDelay
		p.maxDelay = maxDelay
	}
}

// WithRecoverableStatus replaces the set of recoverable status codes.
func WithRecoverableStatus(codes ...int) Option {
	return func(p *Policy) {
		p.recoverable = make(map[int]struct{}, len(codes))

		for _, code := range codes {
			p.recoverable[code] = struct{}{}
		}
	}
}

// WithSleep overrides the wait between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// NewPolicy creates a new Policy.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxRetries:  DefaultMaxRetries,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		recoverable: map[int]struct{}{http.StatusTooManyRequests: {}},
		sleep:       sleep,
	}

	for _, o := range opts {
		o(p)
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	return p
}

// MaxAttempts returns the total number of attempts.
func (p *Policy) MaxAttempts() int {
	return p.maxRetries + 1
}

// IsRecoverable reports whether the status code is a candidate for retry.
func (p *Policy) IsRecoverable(code int) bool {
	_, ok := p.recoverable[code]

	return ok
}

// Delay returns the wait before the given retry (1-based): base * 2^(retry-1), capped at the max delay.
func (p *Policy) Delay(retry int) time.Duration {
	if retry < 1 || p.baseDelay <= 0 {
		return 0
	}

	b := p.newBackOff()

	var delay time.Duration

	for range retry {
		delay = b.NextBackOff()
	}

	return delay
}

// newBackOff returns the deterministic exponential schedule of the policy.
func (p *Policy) newBackOff() *backoff.ExponentialBackOff {
	maxDelay := p.maxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(max(p.baseDelay, 0), maxDelay)
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// Do runs fn until it returns a non-recoverable status, the server marks the failure as not
// retryable, or the attempts are exhausted.
//
// Cancelling ctx stops scheduling attempts and interrupts the wait between them.
func Do[T any](ctx context.Context, p *Policy, fn Func[T]) (T, error) {
	var zero T

	attempt := Attempt{Number: 1}
	schedule := p.newBackOff()

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, status, err := fn(ctx, attempt)
		if err != nil {
			if !errors.Is(err, ErrRetryImmediately) || attempt.Number >= p.MaxAttempts() {
				return zero, err
			}

			p.logger.Debug("retrying request immediately", zap.Int("attempt", attempt.Number), zap.Error(err))

			attempt = Attempt{
				Number:     attempt.Number + 1,
				LastStatus: status.Code,
				Retryable:  true,
			}

			continue
		}

		if !p.IsRecoverable(status.Code) {
			return result, nil
		}

		retryable := message.IsRetryable(status.Header)

		statusErr := &StatusError{
			StatusCode: status.Code,
			Attempts:   attempt.Number,
			Retryable:  retryable,
		}

		if !retryable {
			p.logger.Info("recoverable status marked as not retryable", zap.Int("status", status.Code))

			return zero, statusErr
		}

		if attempt.Number >= p.MaxAttempts() {
			p.logger.Warn("retries exhausted", zap.Int("status", status.Code), zap.Int("attempts", attempt.Number))

			return zero, fmt.Errorf("%w: %w", ErrRetryExhausted, statusErr)
		}

		var delay time.Duration
		if p.baseDelay > 0 {
			delay = schedule.NextBackOff()
		}

		p.logger.Debug("retrying request",
			zap.Int("attempt", attempt.Number),
			zap.Int("status", status.Code),
			zap.Duration("delay", delay),
		)

		if err = p.sleep(ctx, delay); err != nil {
			return zero, err
		}

		attempt = Attempt{
			Number:     attempt.Number + 1,
			LastStatus: status.Code,
			Retryable:  retryable,
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
