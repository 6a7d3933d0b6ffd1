// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package enforcement

import (
	"sync"

	"github.com/purchasekit/go-response-trust/pkg/verification"
)

// modeState guards the mode, readers never block each other.
type modeState struct {
	mode verification.Mode
	mu   sync.RWMutex
}

func (s *modeState) read() verification.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.mode
}

// write replaces the mode with the result of fn, fn runs under the write lock and
// must not call back into read.
func (s *modeState) write(fn func(verification.Mode) verification.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = fn(s.mode)
}
