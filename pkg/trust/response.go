// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package trust

import (
	"net/http"

	"github.com/purchasekit/go-response-trust/pkg/verification"
)

// TrustedResponse is the response handed to the caller together with its verification tag.
type TrustedResponse struct {
	Header             http.Header
	Body               []byte
	StatusCode         int
	VerificationResult verification.Result

	// FromCache is set when the body was served from the ETag cache after a "not modified" response.
	FromCache bool
}

// Verified reports whether the response signature was checked and valid.
func (r *TrustedResponse) Verified() bool {
	return r.VerificationResult.IsVerified()
}
