// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"io"
	"math/big"
)

// Host-key / public-key algorithm names, RFC 4253/8332/5656.
const (
	KeyAlgoED25519   = "ssh-ed25519"
	KeyAlgoRSA       = "ssh-rsa"
	KeyAlgoRSASHA256 = "rsa-sha2-256"
	KeyAlgoECDSA256  = "ecdsa-sha2-nistp256"
)

// PublicKey is the host-key / signature-verification half of the
// "server host-key signature verification" capability named in spec.md
// section 4.2. It is also what a client-side Signer exposes for
// publickey userauth (spec.md section 4.7).
type PublicKey interface {
	// Type returns the wire algorithm name, e.g. "ssh-ed25519".
	Type() string
	// Marshal returns the public key blob in the wire format used as
	// the userauth public_key_blob and read back by ParsePublicKey.
	Marshal() []byte
	// Verify checks sig against data using this key.
	Verify(data []byte, sig *Signature) error
}

// Signature is the wire format of an SSH signature: an algorithm name
// followed by an opaque signature blob (RFC 4253 section 6.6).
type Signature struct {
	Format string
	Blob   []byte
}

// Signer is able to sign userauth challenges with a private key whose
// public half is exposed by PublicKey. Producing a Signer from an on-disk
// private key file is out of scope (spec.md section 1); callers construct
// one from an already-parsed crypto.Signer via NewSignerFromKey.
type Signer interface {
	PublicKey() PublicKey
	Sign(rand io.Reader, data []byte) (*Signature, error)
}

// marshalPublicKeyBlob returns the wire-format public key blob: the
// algorithm name as a string, followed by algorithm-specific fields.
func marshalPublicKeyBlob(algo string, fields ...[]byte) []byte {
	out := appendString(nil, algo)
	for _, f := range fields {
		out = appendString(out, string(f))
	}
	return out
}

// --- ssh-ed25519 -------------------------------------------------------

type ed25519PublicKey ed25519.PublicKey

func (k ed25519PublicKey) Type() string { return KeyAlgoED25519 }

func (k ed25519PublicKey) Marshal() []byte {
	return marshalPublicKeyBlob(KeyAlgoED25519, []byte(k))
}

func (k ed25519PublicKey) Verify(data []byte, sig *Signature) error {
	if sig.Format != KeyAlgoED25519 {
		return &SignatureError{Msg: "ssh-ed25519: signature format mismatch: " + sig.Format}
	}
	if !ed25519.Verify(ed25519.PublicKey(k), data, sig.Blob) {
		return &SignatureError{Msg: "ssh-ed25519: signature verification failed"}
	}
	return nil
}

type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519PublicKey
}

func (s *ed25519Signer) PublicKey() PublicKey { return s.pub }

func (s *ed25519Signer) Sign(rand io.Reader, data []byte) (*Signature, error) {
	sig := ed25519.Sign(s.priv, data)
	return &Signature{Format: KeyAlgoED25519, Blob: sig}, nil
}

// --- ssh-rsa / rsa-sha2-256 ---------------------------------------------

type rsaPublicKey rsa.PublicKey

func (k *rsaPublicKey) Type() string { return KeyAlgoRSA }

func (k *rsaPublicKey) Marshal() []byte {
	e := new(big.Int).SetInt64(int64(k.E))
	out := appendString(nil, KeyAlgoRSA)
	out = appendMpint(out, e)
	return appendMpint(out, k.N)
}

func (k *rsaPublicKey) Verify(data []byte, sig *Signature) error {
	var h crypto.Hash
	switch sig.Format {
	case KeyAlgoRSA:
		h = crypto.SHA1
	case KeyAlgoRSASHA256:
		h = crypto.SHA256
	default:
		return &SignatureError{Msg: "ssh-rsa: unsupported signature format: " + sig.Format}
	}
	hasher := h.New()
	hasher.Write(data)
	if err := rsa.VerifyPKCS1v15((*rsa.PublicKey)(k), h, hasher.Sum(nil), sig.Blob); err != nil {
		return &SignatureError{Msg: "ssh-rsa: " + err.Error()}
	}
	return nil
}

type rsaSigner struct {
	priv *rsa.PrivateKey
	pub  *rsaPublicKey
}

func (s *rsaSigner) PublicKey() PublicKey { return s.pub }

func (s *rsaSigner) Sign(rnd io.Reader, data []byte) (*Signature, error) {
	h := crypto.SHA256
	hasher := h.New()
	hasher.Write(data)
	sig, err := rsa.SignPKCS1v15(rnd, s.priv, h, hasher.Sum(nil))
	if err != nil {
		return nil, err
	}
	return &Signature{Format: KeyAlgoRSASHA256, Blob: sig}, nil
}

// --- ecdsa-sha2-nistp256 -------------------------------------------------

type ecdsaPublicKey ecdsa.PublicKey

func (k *ecdsaPublicKey) Type() string { return KeyAlgoECDSA256 }

func (k *ecdsaPublicKey) Marshal() []byte {
	point := elliptic.Marshal(k.Curve, k.X, k.Y)
	return marshalPublicKeyBlob(KeyAlgoECDSA256, []byte("nistp256"), point)
}

func (k *ecdsaPublicKey) Verify(data []byte, sig *Signature) error {
	if sig.Format != KeyAlgoECDSA256 {
		return &SignatureError{Msg: "ecdsa: signature format mismatch: " + sig.Format}
	}
	var ecSig struct {
		R, S *big.Int
	}
	rest := sig.Blob
	r, rest, ok := parseMpint(rest)
	if !ok {
		return &SignatureError{Msg: "ecdsa: malformed signature"}
	}
	s, _, ok := parseMpint(rest)
	if !ok {
		return &SignatureError{Msg: "ecdsa: malformed signature"}
	}
	ecSig.R, ecSig.S = r, s

	h := crypto.SHA256.New()
	h.Write(data)
	if !ecdsa.Verify((*ecdsa.PublicKey)(k), h.Sum(nil), ecSig.R, ecSig.S) {
		return &SignatureError{Msg: "ecdsa: signature verification failed"}
	}
	return nil
}

type ecdsaSigner struct {
	priv *ecdsa.PrivateKey
	pub  *ecdsaPublicKey
}

func (s *ecdsaSigner) PublicKey() PublicKey { return s.pub }

func (s *ecdsaSigner) Sign(rnd io.Reader, data []byte) (*Signature, error) {
	h := crypto.SHA256.New()
	h.Write(data)
	r, sVal, err := ecdsa.Sign(rnd, s.priv, h.Sum(nil))
	if err != nil {
		return nil, err
	}
	blob := appendMpint(nil, r)
	blob = appendMpint(blob, sVal)
	return &Signature{Format: KeyAlgoECDSA256, Blob: blob}, nil
}

// NewSignerFromKey wraps an already-parsed private key (as produced by the
// caller's own key-file loading, out of scope per spec.md section 1) in a
// Signer suitable for ClientConfig.Auth's publickey method.
func NewSignerFromKey(key crypto.Signer) (Signer, error) {
	switch k := key.(type) {
	case ed25519.PrivateKey:
		pub := ed25519PublicKey(k.Public().(ed25519.PublicKey))
		return &ed25519Signer{priv: k, pub: pub}, nil
	case *rsa.PrivateKey:
		pub := rsaPublicKey(k.PublicKey)
		return &rsaSigner{priv: k, pub: &pub}, nil
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, errors.New("ssh: only P256 ECDSA keys are supported")
		}
		pub := ecdsaPublicKey(k.PublicKey)
		return &ecdsaSigner{priv: k, pub: &pub}, nil
	default:
		return nil, errors.New("ssh: unsupported key type for signing")
	}
}

// ParsePublicKey parses a wire-format public key blob (spec.md section
// 4.6: K_S is "an opaque blob" whose first field names its own
// algorithm).
func ParsePublicKey(in []byte) (PublicKey, error) {
	algo, rest, ok := parseString(in)
	if !ok {
		return nil, &ProtocolError{Msg: "public key: truncated algorithm name"}
	}
	switch string(algo) {
	case KeyAlgoED25519:
		keyBytes, _, ok := parseString(rest)
		if !ok || len(keyBytes) != ed25519.PublicKeySize {
			return nil, &ProtocolError{Msg: "ssh-ed25519: malformed public key"}
		}
		return ed25519PublicKey(append([]byte(nil), keyBytes...)), nil
	case KeyAlgoRSA:
		e, rest, ok := parseMpint(rest)
		if !ok {
			return nil, &ProtocolError{Msg: "ssh-rsa: malformed public key"}
		}
		n, _, ok := parseMpint(rest)
		if !ok {
			return nil, &ProtocolError{Msg: "ssh-rsa: malformed public key"}
		}
		return &rsaPublicKey{N: n, E: int(e.Int64())}, nil
	case KeyAlgoECDSA256:
		_, rest, ok := parseString(rest) // curve name, e.g. "nistp256"
		if !ok {
			return nil, &ProtocolError{Msg: "ecdsa: malformed public key"}
		}
		point, _, ok := parseString(rest)
		if !ok {
			return nil, &ProtocolError{Msg: "ecdsa: malformed public key"}
		}
		curve := elliptic.P256()
		x, y := elliptic.Unmarshal(curve, point)
		if x == nil {
			return nil, &ProtocolError{Msg: "ecdsa: invalid curve point"}
		}
		return &ecdsaPublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, &ProtocolError{Msg: "unknown public key algorithm: " + string(algo)}
	}
}

// parseSignatureBody parses the wire Signature format used by
// SSH_MSG_KEXDH_REPLY's sig_H and by publickey userauth's signature
// field: string(format) || string(blob).
func parseSignatureBody(in []byte) (sig *Signature, rest []byte, ok bool) {
	format, in, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	blob, in, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	return &Signature{Format: string(format), Blob: blob}, in, true
}
