// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEd25519SignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)
	require.Equal(t, KeyAlgoED25519, signer.PublicKey().Type())

	data := []byte("authenticate me")
	sig, err := signer.Sign(rand.Reader, data)
	require.NoError(t, err)
	require.NoError(t, signer.PublicKey().Verify(data, sig))

	// Marshal/ParsePublicKey round trip.
	parsed, err := ParsePublicKey(signer.PublicKey().Marshal())
	require.NoError(t, err)
	require.Equal(t, KeyAlgoED25519, parsed.Type())
	require.NoError(t, parsed.Verify(data, sig))

	require.Equal(t, ed25519.PublicKey(pub), ed25519.PublicKey(parsed.(ed25519PublicKey)))
}

func TestEd25519VerifyRejectsTamperedData(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)

	sig, err := signer.Sign(rand.Reader, []byte("original"))
	require.NoError(t, err)

	err = signer.PublicKey().Verify([]byte("tampered"), sig)
	require.Error(t, err)
	var sigErr *SignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestRSASignAndVerifyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := NewSignerFromKey(key)
	require.NoError(t, err)
	require.Equal(t, KeyAlgoRSA, signer.PublicKey().Type())

	data := []byte("rsa-sha2-256 payload")
	sig, err := signer.Sign(rand.Reader, data)
	require.NoError(t, err)
	require.Equal(t, KeyAlgoRSASHA256, sig.Format)
	require.NoError(t, signer.PublicKey().Verify(data, sig))

	parsed, err := ParsePublicKey(signer.PublicKey().Marshal())
	require.NoError(t, err)
	require.NoError(t, parsed.Verify(data, sig))
}

func TestECDSASignAndVerifyRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	signer, err := NewSignerFromKey(key)
	require.NoError(t, err)
	require.Equal(t, KeyAlgoECDSA256, signer.PublicKey().Type())

	data := []byte("ecdsa payload")
	sig, err := signer.Sign(rand.Reader, data)
	require.NoError(t, err)
	require.NoError(t, signer.PublicKey().Verify(data, sig))

	parsed, err := ParsePublicKey(signer.PublicKey().Marshal())
	require.NoError(t, err)
	require.NoError(t, parsed.Verify(data, sig))
}

func TestNewSignerFromKeyRejectsNonP256ECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	_, err = NewSignerFromKey(key)
	require.Error(t, err)
}

func TestParsePublicKeyUnknownAlgorithm(t *testing.T) {
	blob := appendString(nil, "ssh-unknown-type")
	_, err := ParsePublicKey(blob)
	require.Error(t, err)
}

func TestParseSignatureBody(t *testing.T) {
	want := &Signature{Format: KeyAlgoED25519, Blob: []byte{1, 2, 3}}
	wire := appendString(nil, want.Format)
	wire = appendString(wire, string(want.Blob))

	got, rest, ok := parseSignatureBody(wire)
	require.True(t, ok)
	require.Empty(t, rest)
	require.Equal(t, want.Format, got.Format)
	require.Equal(t, want.Blob, got.Blob)
}
