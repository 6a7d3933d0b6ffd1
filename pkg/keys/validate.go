// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keys

import (
	"errors"
	"time"
)

// DefaultAllowedClockSkew is the clock skew tolerated in the key expiration validation.
const DefaultAllowedClockSkew = 5 * time.Minute

type validationOptions struct {
	allowedClockSkew time.Duration
}

// ValidationOption represents a functional validation option.
type ValidationOption func(*validationOptions)

// WithAllowedClockSkew sets the allowed clock skew in the key expiration validation.
func WithAllowedClockSkew(allowedClockSkew time.Duration) ValidationOption {
	return func(o *validationOptions) {
		o.allowedClockSkew = allowedClockSkew
	}
}

// Validate validates the key: it must not be revoked or expired and must carry a primary identity.
func (p *PGPKey) Validate(opt ...ValidationOption) error {
	options := validationOptions{
		allowedClockSkew: DefaultAllowedClockSkew,
	}

	for _, o := range opt {
		o(&options)
	}

	if p.key.IsRevoked() {
		return errors.New("key is revoked")
	}

	entity := p.key.GetEntity()
	if entity == nil {
		return errors.New("key does not contain an entity")
	}

	if entity.PrimaryIdentity() == nil {
		return errors.New("key does not contain a primary identity")
	}

	if p.IsExpired(options.allowedClockSkew) {
		return errors.New("key expired")
	}

	return nil
}
