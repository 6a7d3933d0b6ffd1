// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package retry

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRetryExhausted is returned when the last allowed attempt still failed with a recoverable status.
var ErrRetryExhausted = errors.New("retries exhausted")

// ErrRetryImmediately is wrapped by an attempt which must be repeated right away.
// The repeated attempt counts against the same attempt budget.
var ErrRetryImmediately = errors.New("retry immediately")

// StatusError is a recoverable status which was not (or no longer) retried.
type StatusError struct {
	StatusCode int
	Attempts   int
	Retryable  bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d %s after %d attempt(s) (retryable: %t)",
		e.StatusCode, http.StatusText(e.StatusCode), e.Attempts, e.Retryable)
}
