// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package verification defines the verification result and the verification mode.
package verification

import "fmt"

// Result is the outcome of evaluating the trust of a single response.
type Result int

// Result values.
//
// NotVerified is the zero value: a response is never considered verified by default.
const (
	// NotVerified means verification was not requested or not possible.
	NotVerified Result = iota
	// Verified means the signature check passed.
	Verified
	// Failed means a signature was expected but was absent or invalid.
	Failed
)

// IsVerified reports whether r is Verified.
func (r Result) IsVerified() bool {
	return r == Verified
}

func (r Result) String() string {
	switch r {
	case NotVerified:
		return "not_verified"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}
