// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/rand"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// These are string constants in the SSH protocol.
const (
	compressionNone = "none"
	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"
)

// defaultCiphers specifies the default ciphers in preference order. AEAD
// ciphers are preferred since they fold the MAC into the cipher (spec.md
// section 4.2) and need no separate mac negotiation for that direction.
var defaultCiphers = []string{
	chacha20Poly1305ID,
	gcm128CipherID, gcm256CipherID,
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
}

// allSupportedCiphers specifies all ciphers which are supported, including
// ones not offered by default. aes128-cbc and 3des-cbc are deprecated
// families the spec marks optional (spec.md section 1 Non-goals); they are
// named here only so a peer offering them doesn't trip an unknown-algorithm
// parse error, but cipherModes has no entry for them so they never win
// negotiation.
var allSupportedCiphers = []string{
	chacha20Poly1305ID,
	gcm128CipherID, gcm256CipherID,
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	// Not offered by default, and not implemented:
	aes128cbcID, tripledescbcID, "arcfour", "arcfour128", "arcfour256",
}

// defaultKexAlgos specifies the default key-exchange algorithms in
// preference order, per spec.md section 4.2 ("Curve25519 family" first).
var defaultKexAlgos = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoCurve25519SHA256LibSSH,
	kexAlgoECDH256,
	kexAlgoDH14SHA1,
}

// allSupportedKexAlgos specifies all key-exchange algorithm names this
// package recognizes on the wire. kexAlgoDH14SHA1/kexAlgoDH1SHA1 have no
// kexAlgoMap entry (see kex.go; classical DH is not implemented) so they
// are listed for completeness only (see SPEC_FULL.md section 4.2).
var allSupportedKexAlgos = []string{
	kexAlgoCurve25519SHA256, kexAlgoCurve25519SHA256LibSSH,
	kexAlgoECDH256, kexAlgoECDH384, kexAlgoECDH521,
	kexAlgoDH14SHA1, kexAlgoDH1SHA1,
}

// supportedHostKeyAlgos specifies the supported host-key algorithms (i.e.
// methods of authenticating servers) in preference order.
var supportedHostKeyAlgos = []string{
	KeyAlgoED25519,
	KeyAlgoECDSA256,
	KeyAlgoRSASHA256, KeyAlgoRSA,
}

// supportedMACs specifies a default set of MAC algorithms in preference
// order. AEAD ciphers never consult this list (spec.md section 4.2: a
// NoneMac is used).
var supportedMACs = []string{
	"hmac-sha2-256", "hmac-sha1",
}

var supportedCompressions = []string{compressionNone}

// hashFuncs keeps the mapping of supported host-key algorithms to their
// respective hashes needed for signature verification.
var hashFuncs = map[string]crypto.Hash{
	KeyAlgoRSA:       crypto.SHA1,
	KeyAlgoRSASHA256: crypto.SHA256,
	KeyAlgoECDSA256:  crypto.SHA256,
}

func findCommon(what string, client []string, server []string) (common string, err error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", &AlgorithmNegotiationError{Category: what, Client: client, Server: server}
}

// DirectionAlgorithms holds the cipher/MAC/compression triple negotiated
// for one direction of traffic (spec.md section 3, Session entity).
type DirectionAlgorithms struct {
	Cipher      string
	MAC         string
	Compression string
}

// Algorithms is the result of algorithm selection (spec.md section 4.5):
// one winner per category, picked by the first-of-client-preserved-in-server
// rule in findAgreedAlgorithms.
type Algorithms struct {
	Kex     string
	HostKey string
	W       DirectionAlgorithms // client -> server
	R       DirectionAlgorithms // server -> client
}

// findAgreedAlgorithms implements spec.md section 4.5's selection rule per
// category: the first algorithm in the client's list that also appears in
// the server's list. clientKexInit/serverKexInit must be in that role
// order; the only caller (handshake.go) is the client and passes its own
// KEXINIT first.
func findAgreedAlgorithms(clientKexInit, serverKexInit *KexInitMsg) (algs *Algorithms, err error) {
	result := &Algorithms{}

	result.Kex, err = findCommon("key exchange", clientKexInit.KexAlgos, serverKexInit.KexAlgos)
	if err != nil {
		return
	}

	result.HostKey, err = findCommon("host key", clientKexInit.ServerHostKeyAlgos, serverKexInit.ServerHostKeyAlgos)
	if err != nil {
		return
	}

	result.W.Cipher, err = findCommon("client to server cipher", clientKexInit.CiphersClientServer, serverKexInit.CiphersClientServer)
	if err != nil {
		return
	}

	result.R.Cipher, err = findCommon("server to client cipher", clientKexInit.CiphersServerClient, serverKexInit.CiphersServerClient)
	if err != nil {
		return
	}

	if !cipherModes[result.W.Cipher].isAEAD {
		result.W.MAC, err = findCommon("client to server MAC", clientKexInit.MACsClientServer, serverKexInit.MACsClientServer)
		if err != nil {
			return
		}
	}

	if !cipherModes[result.R.Cipher].isAEAD {
		result.R.MAC, err = findCommon("server to client MAC", clientKexInit.MACsServerClient, serverKexInit.MACsServerClient)
		if err != nil {
			return
		}
	}

	result.W.Compression, err = findCommon("client to server compression", clientKexInit.CompressionClientServer, serverKexInit.CompressionClientServer)
	if err != nil {
		return
	}

	result.R.Compression, err = findCommon("server to client compression", clientKexInit.CompressionServerClient, serverKexInit.CompressionServerClient)
	if err != nil {
		return
	}

	return result, nil
}

// If rekeythreshold is too small, we can't make any progress sending
// stuff.
const minRekeyThreshold uint64 = 256

// Config contains configuration data common to ClientConfig (the server
// role is out of scope per spec.md section 1).
type Config struct {
	// Rand provides the source of entropy for cryptographic
	// primitives. If Rand is nil, the cryptographic random reader
	// in package crypto/rand will be used.
	Rand io.Reader

	// The maximum number of bytes sent or received after which a
	// new key is negotiated. It must be at least 256. If
	// unspecified, 1 gigabyte is used.
	RekeyThreshold uint64

	// The allowed key exchanges algorithms. If unspecified then a
	// default set of algorithms is used.
	KeyExchanges []string

	// The allowed cipher algorithms. If unspecified then a sensible
	// default is used.
	Ciphers []string

	// The allowed MAC algorithms. If unspecified then a sensible default
	// is used.
	MACs []string

	// Logger receives structured handshake/kex/auth diagnostics. If nil,
	// logrus.StandardLogger() is used. This replaces the teacher's
	// compile-time debugHandshake flag with level-gated logging, since a
	// reusable client library cannot ask its consumers to edit source to
	// get debug output (see SPEC_FULL.md section 9, Open Question
	// decisions).
	Logger *log.Logger

	// Metrics, if non-nil, receives handshake/channel instrumentation.
	// A nil Metrics disables instrumentation entirely.
	Metrics *Metrics
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.StandardLogger()
}

// SetDefaults sets sensible values for unset fields in config. This is
// exported for testing: Configs passed to SSH functions are copied and have
// default values set automatically.
func (c *Config) SetDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Ciphers == nil {
		c.Ciphers = defaultCiphers
	}
	var ciphers []string
	for _, c := range c.Ciphers {
		if cipherModes[c] != nil {
			// reject the cipher if we have no cipherModes definition
			ciphers = append(ciphers, c)
		}
	}
	c.Ciphers = ciphers

	if c.KeyExchanges == nil {
		c.KeyExchanges = defaultKexAlgos
	}

	if c.MACs == nil {
		c.MACs = supportedMACs
	}

	if c.RekeyThreshold == 0 {
		// RFC 4253, section 9 suggests rekeying after 1G.
		c.RekeyThreshold = 1 << 30
	}
	if c.RekeyThreshold < minRekeyThreshold {
		c.RekeyThreshold = minRekeyThreshold
	}
}

// buildDataSignedForAuth returns the data that is signed in order to prove
// possession of a private key. See RFC 4252, section 7, and spec.md
// section 4.7 / scenario S6.
func buildDataSignedForAuth(sessionID []byte, req userAuthRequestMsg, algo, pubKey []byte) []byte {
	out := appendString(nil, string(sessionID))
	out = append(out, msgUserAuthRequest)
	out = appendString(out, req.User)
	out = appendString(out, req.Service)
	out = appendString(out, req.Method)
	out = appendBool(out, true)
	out = appendString(out, string(algo))
	out = appendString(out, string(pubKey))
	return out
}

// newCond is a helper to hide the fact that there is no usable zero
// value for sync.Cond.
func newCond() *sync.Cond { return sync.NewCond(new(sync.Mutex)) }

// window represents the buffer available to clients
// wishing to write to a channel (spec.md section 3, Channel entity:
// "send-window ... monotonically adjusted ... we never transmit data
// beyond the peer's advertised window").
type window struct {
	*sync.Cond
	win          uint32 // RFC 4254 5.2 says the window size can grow to 2^32-1
	writeWaiters int
	closed       bool
}

// add adds win to the amount of window available
// for consumers.
func (w *window) add(win uint32) bool {
	// a zero sized window adjust is a noop.
	if win == 0 {
		return true
	}
	w.L.Lock()
	if w.win+win < win {
		w.L.Unlock()
		return false
	}
	w.win += win
	// It is unusual that multiple goroutines would be attempting to reserve
	// window space, but not guaranteed. Use broadcast to notify all waiters
	// that additional window is available.
	w.Broadcast()
	w.L.Unlock()
	return true
}

// close sets the window to closed, so all reservations fail
// immediately.
func (w *window) close() {
	w.L.Lock()
	w.closed = true
	w.Broadcast()
	w.L.Unlock()
}

// reserve reserves win from the available window capacity.
// If no capacity remains, reserve will block. reserve may
// return less than requested.
func (w *window) reserve(win uint32) (uint32, error) {
	var err error
	w.L.Lock()
	w.writeWaiters++
	w.Broadcast()
	for w.win == 0 && !w.closed {
		w.Wait()
	}
	w.writeWaiters--
	if w.win < win {
		win = w.win
	}
	w.win -= win
	if w.closed {
		err = io.EOF
	}
	w.L.Unlock()
	return win, err
}

// waitWriterBlocked waits until some goroutine is blocked for further
// writes. It is used in tests only.
func (w *window) waitWriterBlocked() {
	w.Cond.L.Lock()
	for w.writeWaiters == 0 {
		w.Cond.Wait()
	}
	w.Cond.L.Unlock()
}
