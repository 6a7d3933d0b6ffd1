// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package enforcement

import (
	"errors"
	"fmt"
)

// ErrSignatureVerificationFailed is matched by every SignatureVerificationFailedError.
var ErrSignatureVerificationFailed = errors.New("signature verification failed")

// SignatureVerificationFailedError is returned under the enforced mode when a response fails verification.
type SignatureVerificationFailedError struct {
	Path string
}

func (e *SignatureVerificationFailedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSignatureVerificationFailed, e.Path)
}

// Is makes errors.Is(err, ErrSignatureVerificationFailed) match.
func (e *SignatureVerificationFailedError) Is(target error) bool {
	return target == ErrSignatureVerificationFailed
}
