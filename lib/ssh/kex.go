// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/ecdh"
	"crypto/sha256"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// Key exchange algorithm names, RFC 4253/8731/8308 and OpenSSH extensions.
const (
	kexAlgoCurve25519SHA256       = "curve25519-sha256"
	kexAlgoCurve25519SHA256LibSSH = "curve25519-sha256@libssh.org"
	kexAlgoECDH256                = "ecdh-sha2-nistp256"
	kexAlgoECDH384                = "ecdh-sha2-nistp384"
	kexAlgoECDH521                = "ecdh-sha2-nistp521"
	kexAlgoDH1SHA1                = "diffie-hellman-group1-sha1"
	kexAlgoDH14SHA1               = "diffie-hellman-group14-sha1"
)

// handshakeMagics carries the four byte strings bound into the exchange
// hash (spec.md section 4.6 step 3): the two identification banners and
// the two KEXINIT payloads (I_C, I_S).
type handshakeMagics struct {
	clientVersion, serverVersion []byte
	clientKexInit, serverKexInit []byte
}

func (m *handshakeMagics) write(out []byte) []byte {
	out = appendString(out, string(m.clientVersion))
	out = appendString(out, string(m.serverVersion))
	out = appendString(out, string(m.clientKexInit))
	out = appendString(out, string(m.serverKexInit))
	return out
}

// kexResult is the KexState entity (spec.md section 3) after a completed
// exchange: the exchange hash, the raw shared secret, the host key and
// signature as presented on the wire, and the six derived directional
// keys (spec.md section 4.6 step 5).
type kexResult struct {
	H         []byte
	K         []byte // mpint-encoded shared secret
	HostKey   []byte
	Signature []byte
	SessionID []byte
	Hash      crypto.Hash

	IVCtoS, IVStoC     []byte
	KeyCtoS, KeyStoC   []byte
	MACKeyCtoS, MACKeyStoC []byte
}

// kexAlgorithm is the key-exchange capability set from spec.md section
// 4.2/4.6: it drives KEX_ECDH_INIT/KEX_ECDH_REPLY over conn and returns
// the raw exchange result (host key signature verification against the
// caller's policy happens one layer up, in handshake.go, per spec.md
// section 4.6 step 4).
type kexAlgorithm interface {
	Client(conn packetConn, rand io.Reader, magics *handshakeMagics) (*kexResult, error)
}

var kexAlgoMap = map[string]kexAlgorithm{
	kexAlgoCurve25519SHA256:       curve25519KEX{},
	kexAlgoCurve25519SHA256LibSSH: curve25519KEX{},
	kexAlgoECDH256:                ecdhKEX{curve: ecdh.P256(), hashFunc: crypto.SHA256},
}

// curve25519KEX implements the Curve25519 family named in spec.md section
// 4.2: public_key()/shared_secret()/hash() collapsed into the single
// Client call, since this core never replays a kex.
type curve25519KEX struct{}

func (curve25519KEX) Client(conn packetConn, randSource io.Reader, magics *handshakeMagics) (*kexResult, error) {
	var priv [32]byte
	if _, err := io.ReadFull(randSource, priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	if err := conn.writePacket(Marshal(&kexECDHInitMsg{ClientPubKey: pub})); err != nil {
		return nil, err
	}

	packet, err := conn.readPacket()
	if err != nil {
		return nil, err
	}
	var reply kexECDHReplyMsg
	if err := Unmarshal(packet, &reply); err != nil {
		return nil, err
	}

	secret, err := curve25519.X25519(priv[:], reply.EphemeralPubKey)
	if err != nil {
		return nil, &SignatureError{Msg: "curve25519: " + err.Error()}
	}

	h := sha256.New()
	h.Write(magics.write(nil))
	h.Write(appendString(nil, string(reply.HostKey)))
	h.Write(appendString(nil, string(pub)))
	h.Write(appendString(nil, string(reply.EphemeralPubKey)))
	K := new(big.Int).SetBytes(secret)
	h.Write(appendMpint(nil, K))
	H := h.Sum(nil)

	return &kexResult{
		H:         H,
		K:         appendMpint(nil, K),
		HostKey:   reply.HostKey,
		Signature: reply.Signature,
		Hash:      crypto.SHA256,
	}, nil
}

// ecdhKEX implements ecdh-sha2-nistp256/384/521; only nistp256 is wired
// into kexAlgoMap (see SPEC_FULL.md section 4.2) but the type itself is
// parametric.
type ecdhKEX struct {
	curve    ecdh.Curve
	hashFunc crypto.Hash
}

func (k ecdhKEX) Client(conn packetConn, randSource io.Reader, magics *handshakeMagics) (*kexResult, error) {
	priv, err := k.curve.GenerateKey(randSource)
	if err != nil {
		return nil, err
	}
	pub := priv.PublicKey().Bytes()

	if err := conn.writePacket(Marshal(&kexECDHInitMsg{ClientPubKey: pub})); err != nil {
		return nil, err
	}

	packet, err := conn.readPacket()
	if err != nil {
		return nil, err
	}
	var reply kexECDHReplyMsg
	if err := Unmarshal(packet, &reply); err != nil {
		return nil, err
	}

	peerKey, err := k.curve.NewPublicKey(reply.EphemeralPubKey)
	if err != nil {
		return nil, &SignatureError{Msg: "ecdh: invalid peer public key: " + err.Error()}
	}
	secret, err := priv.ECDH(peerKey)
	if err != nil {
		return nil, &SignatureError{Msg: "ecdh: " + err.Error()}
	}

	h := k.hashFunc.New()
	h.Write(magics.write(nil))
	h.Write(appendString(nil, string(reply.HostKey)))
	h.Write(appendString(nil, string(pub)))
	h.Write(appendString(nil, string(reply.EphemeralPubKey)))
	K := new(big.Int).SetBytes(secret)
	h.Write(appendMpint(nil, K))
	H := h.Sum(nil)

	return &kexResult{
		H:         H,
		K:         appendMpint(nil, K),
		HostKey:   reply.HostKey,
		Signature: reply.Signature,
		Hash:      k.hashFunc,
	}, nil
}

// computeKey derives one of the six directional values named in spec.md
// section 4.6 step 5: K_x = hash(mpint(K) || H || letter || session_id),
// extended by K_x <- K_x || hash(mpint(K) || H || K_x) until size bytes
// are available.
func computeKey(hashFunc crypto.Hash, K, H []byte, letter byte, sessionID []byte, size int) []byte {
	h := hashFunc.New()
	out := make([]byte, 0, size)

	h.Write(K)
	h.Write(H)
	h.Write([]byte{letter})
	h.Write(sessionID)
	digest := h.Sum(nil)

	for len(out) < size {
		out = append(out, digest...)
		if len(out) >= size {
			break
		}
		h.Reset()
		h.Write(K)
		h.Write(H)
		h.Write(out)
		digest = h.Sum(nil)
	}
	return out[:size]
}

// deriveKeys fills in the six derived directional values on result, given
// the negotiated cipher/mac key sizes for each direction. Called once a
// kexResult's raw H/K/SessionID are known (handshake.go).
func deriveKeys(result *kexResult, algs *Algorithms) {
	cs := cipherModes[algs.W.Cipher]
	sc := cipherModes[algs.R.Cipher]

	result.IVCtoS = computeKey(result.Hash, result.K, result.H, 'A', result.SessionID, ivSize(cs))
	result.IVStoC = computeKey(result.Hash, result.K, result.H, 'B', result.SessionID, ivSize(sc))
	result.KeyCtoS = computeKey(result.Hash, result.K, result.H, 'C', result.SessionID, cs.keySize)
	result.KeyStoC = computeKey(result.Hash, result.K, result.H, 'D', result.SessionID, sc.keySize)

	if !cs.isAEAD {
		macSize := 0
		if m := macModes[algs.W.MAC]; m != nil {
			macSize = m.keySize
		}
		result.MACKeyCtoS = computeKey(result.Hash, result.K, result.H, 'E', result.SessionID, macSize)
	}
	if !sc.isAEAD {
		macSize := 0
		if m := macModes[algs.R.MAC]; m != nil {
			macSize = m.keySize
		}
		result.MACKeyStoC = computeKey(result.Hash, result.K, result.H, 'F', result.SessionID, macSize)
	}
}

func ivSize(c *cipherMode) int {
	if c.isAEAD && c.ivSize == 0 {
		// chacha20-poly1305@openssh.com derives no separate IV: the
		// nonce is the packet sequence number (cipher.go).
		return 0
	}
	return c.ivSize
}
