// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAgreedAlgorithmsPicksClientPreference(t *testing.T) {
	client := &KexInitMsg{
		KexAlgos:                []string{kexAlgoCurve25519SHA256, kexAlgoECDH256},
		ServerHostKeyAlgos:      []string{KeyAlgoED25519, KeyAlgoRSA},
		CiphersClientServer:     []string{chacha20Poly1305ID, gcm256CipherID},
		CiphersServerClient:     []string{chacha20Poly1305ID, gcm256CipherID},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{compressionNone},
		CompressionServerClient: []string{compressionNone},
	}
	server := &KexInitMsg{
		KexAlgos:                []string{kexAlgoECDH256, kexAlgoCurve25519SHA256},
		ServerHostKeyAlgos:      []string{KeyAlgoRSA, KeyAlgoED25519},
		CiphersClientServer:     []string{gcm256CipherID, chacha20Poly1305ID},
		CiphersServerClient:     []string{gcm256CipherID, chacha20Poly1305ID},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{compressionNone},
		CompressionServerClient: []string{compressionNone},
	}

	algs, err := findAgreedAlgorithms(client, server)
	require.NoError(t, err)
	assert.Equal(t, kexAlgoCurve25519SHA256, algs.Kex)
	assert.Equal(t, KeyAlgoED25519, algs.HostKey)
	assert.Equal(t, chacha20Poly1305ID, algs.W.Cipher)
	assert.Equal(t, chacha20Poly1305ID, algs.R.Cipher)
	// AEAD cipher: no MAC should have been negotiated.
	assert.Equal(t, "", algs.W.MAC)
}

func TestFindAgreedAlgorithmsNoOverlap(t *testing.T) {
	client := &KexInitMsg{KexAlgos: []string{kexAlgoCurve25519SHA256}}
	server := &KexInitMsg{KexAlgos: []string{kexAlgoECDH384}}

	_, err := findAgreedAlgorithms(client, server)
	require.Error(t, err)
	var negErr *AlgorithmNegotiationError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, "key exchange", negErr.Category)
}

func TestConfigSetDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()

	assert.NotNil(t, c.Rand)
	assert.Equal(t, defaultKexAlgos, c.KeyExchanges)
	assert.Equal(t, supportedMACs, c.MACs)
	assert.Equal(t, uint64(1<<30), c.RekeyThreshold)
	for _, cipher := range c.Ciphers {
		assert.NotNil(t, cipherModes[cipher])
	}
}

func TestConfigSetDefaultsClampsRekeyThreshold(t *testing.T) {
	c := Config{RekeyThreshold: 1}
	c.SetDefaults()
	assert.Equal(t, minRekeyThreshold, c.RekeyThreshold)
}

func TestWindowReserveBlocksUntilAdd(t *testing.T) {
	w := window{Cond: newCond()}

	reserved := make(chan uint32, 1)
	go func() {
		n, err := w.reserve(10)
		require.NoError(t, err)
		reserved <- n
	}()

	w.waitWriterBlocked()
	require.True(t, w.add(4))

	select {
	case n := <-reserved:
		assert.Equal(t, uint32(4), n)
	case <-time.After(time.Second):
		t.Fatal("reserve did not unblock after add")
	}
}

func TestWindowCloseUnblocksReserve(t *testing.T) {
	w := window{Cond: newCond()}
	done := make(chan error, 1)
	go func() {
		_, err := w.reserve(1)
		done <- err
	}()

	w.waitWriterBlocked()
	w.close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("reserve did not unblock after close")
	}
}
