// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keys

import (
	"fmt"
	"time"

	pgpcrypto "github.com/ProtonMail/gopenpgp/v2/crypto"
)

// PGPKey represents an OpenPGP public key.
type PGPKey struct {
	key     *pgpcrypto.Key
	keyring *pgpcrypto.KeyRing
}

func newPGPKey(armored []byte) (*PGPKey, error) {
	key, err := pgpcrypto.NewKeyFromArmored(string(armored))
	if err != nil {
		return nil, err
	}

	if key.IsPrivate() {
		if key, err = key.ToPublic(); err != nil {
			return nil, err
		}
	}

	return NewPGPKey(key)
}

// NewPGPKey returns a validated PGPKey from the given pgpcrypto.Key.
func NewPGPKey(key *pgpcrypto.Key, opt ...ValidationOption) (*PGPKey, error) {
	keyRing, err := pgpcrypto.NewKeyRing(key)
	if err != nil {
		return nil, err
	}

	p := &PGPKey{
		key:     key,
		keyring: keyRing,
	}

	if err = p.Validate(opt...); err != nil {
		return nil, err
	}

	return p, nil
}

// ID returns the fingerprint of the key.
func (p *PGPKey) ID() string {
	return p.key.GetFingerprint()
}

// Algorithm implements PublicKey.
func (p *PGPKey) Algorithm() string {
	return "openpgp"
}

// Verify verifies the detached binary signature of the given data using the public key.
func (p *PGPKey) Verify(data, signature []byte) error {
	message := pgpcrypto.NewPlainMessage(data)

	sig := pgpcrypto.NewPGPSignature(signature)

	return p.keyring.VerifyDetached(message, sig, pgpcrypto.GetUnixTime())
}

// IsExpired returns true if the key is expired with clock skew.
func (p *PGPKey) IsExpired(clockSkew time.Duration) bool {
	if clockSkew < 0 {
		panic("clock skew can't be negative")
	}

	now := time.Now()

	i := p.key.GetEntity().PrimaryIdentity()
	keyLifetimeSecs := i.SelfSignature.KeyLifetimeSecs

	if keyLifetimeSecs != nil && *keyLifetimeSecs > 0 && *keyLifetimeSecs < uint32(clockSkew/time.Second) {
		// short-lived keys tolerate at most half of their lifetime
		clockSkew = time.Duration(*keyLifetimeSecs) * time.Second / 2
	}

	expired := func(t time.Time) bool {
		return p.key.GetEntity().PrimaryKey.KeyExpired(i.SelfSignature, t) || // primary key has expired
			i.SelfSignature.SigExpired(t) // user ID self-signature has expired
	}

	return expired(now.Add(clockSkew)) && expired(now.Add(-clockSkew))
}

func (p *PGPKey) String() string {
	return fmt.Sprintf("openpgp:%s", p.ID())
}
