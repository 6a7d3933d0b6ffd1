// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package signaturetest provides server-side signers for tests.
package signaturetest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/purchasekit/go-response-trust/pkg/message"
)

// Signer signs canonical response messages the way the backend does.
type Signer interface {
	// Sign returns the raw signature of data.
	Sign(data []byte) ([]byte, error)
	// Certificate returns the key material to be loaded by the client.
	Certificate() []byte
}

// SignResponse returns the signature header value for the given exchange.
func SignResponse(t testing.TB, signer Signer, nonce []byte, requestTime int64, payload []byte) string {
	t.Helper()

	sig, err := signer.Sign(message.Canonical(nonce, requestTime, payload))
	require.NoError(t, err)

	return base64.StdEncoding.EncodeToString(sig)
}

// SignedHeader returns the response headers of a signed exchange.
func SignedHeader(t testing.TB, signer Signer, nonce []byte, requestTime int64, payload []byte) http.Header {
	t.Helper()

	h := http.Header{}
	h.Set(message.SignatureHeaderKey, SignResponse(t, signer, nonce, requestTime, payload))
	h.Set(message.RequestTimeHeaderKey, strconv.FormatInt(requestTime, 10))

	return h
}

// Ed25519Signer is an ed25519 key pair with a self-signed certificate.
type Ed25519Signer struct {
	key  ed25519.PrivateKey
	cert []byte
}

// NewEd25519 generates a new Ed25519Signer.
func NewEd25519(t testing.TB) *Ed25519Signer {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &Ed25519Signer{
		key:  priv,
		cert: selfSigned(t, pub, priv),
	}
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.key, data), nil
}

// Certificate returns the DER encoded certificate.
func (s *Ed25519Signer) Certificate() []byte {
	return s.cert
}

// CertificatePEM returns the PEM encoded certificate.
func (s *Ed25519Signer) CertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.cert})
}

// EcdsaSigner is a P-256 key pair with a self-signed certificate.
type EcdsaSigner struct {
	key  *ecdsa.PrivateKey
	cert []byte
}

// NewEcdsa generates a new EcdsaSigner.
func NewEcdsa(t testing.TB) *EcdsaSigner {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	return &EcdsaSigner{
		key:  priv,
		cert: selfSigned(t, &priv.PublicKey, priv),
	}
}

// Sign implements Signer, the signature is ASN.1 DER encoded.
func (s *EcdsaSigner) Sign(data []byte) ([]byte, error) {
	return s.key.Sign(rand.Reader, digest(data), crypto.SHA256)
}

// Certificate returns the PEM encoded certificate.
func (s *EcdsaSigner) Certificate() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.cert})
}

// PublicKeyPEM returns the PEM encoded PKIX public key.
func (s *EcdsaSigner) PublicKeyPEM(t testing.TB) []byte {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func digest(data []byte) []byte {
	h := crypto.SHA256.New()
	h.Write(data) //nolint:errcheck

	return h.Sum(nil)
}

func selfSigned(t testing.TB, pub, priv any) []byte {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "api.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	require.NoError(t, err)

	return der
}
