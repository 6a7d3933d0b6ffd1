// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package signaturetest

import (
	"crypto"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	pgpcrypto "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/stretchr/testify/require"
)

// PGPSigner is an OpenPGP key pair.
type PGPSigner struct {
	key     *pgpcrypto.Key
	keyring *pgpcrypto.KeyRing
}

// NewPGP generates a new PGPSigner with the given key lifetime.
func NewPGP(t testing.TB, lifetime time.Duration) *PGPSigner {
	t.Helper()

	entity, err := generateEntity("Backend Signing Key", "test", "signing@example.com", uint32(lifetime/time.Second))
	require.NoError(t, err)

	key, err := pgpcrypto.NewKeyFromEntity(entity)
	require.NoError(t, err)

	keyring, err := pgpcrypto.NewKeyRing(key)
	require.NoError(t, err)

	return &PGPSigner{
		key:     key,
		keyring: keyring,
	}
}

// Sign implements Signer, the signature is a binary detached signature.
func (s *PGPSigner) Sign(data []byte) ([]byte, error) {
	signature, err := s.keyring.SignDetached(pgpcrypto.NewPlainMessage(data))
	if err != nil {
		return nil, err
	}

	return signature.GetBinary(), nil
}

// Certificate returns the armored public key.
func (s *PGPSigner) Certificate() []byte {
	armored, err := s.key.GetArmoredPublicKey()
	if err != nil {
		panic(err)
	}

	return []byte(armored)
}

// ArmoredPrivate returns the armored private key.
func (s *PGPSigner) ArmoredPrivate(t testing.TB) []byte {
	t.Helper()

	armored, err := s.key.Armor()
	require.NoError(t, err)

	return []byte(armored)
}

func generateEntity(name, comment, email string, lifetimeSecs uint32) (*openpgp.Entity, error) {
	cfg := &packet.Config{
		Algorithm:              packet.PubKeyAlgoEdDSA,
		DefaultHash:            crypto.SHA256,
		DefaultCipher:          packet.CipherAES256,
		DefaultCompressionAlgo: packet.CompressionZLIB,
		KeyLifetimeSecs:        lifetimeSecs,
		SigLifetimeSecs:        lifetimeSecs,
	}

	return openpgp.NewEntity(name, comment, email, cfg)
}
