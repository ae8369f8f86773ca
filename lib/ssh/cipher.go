// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	gcm128CipherID     = "aes128-gcm@openssh.com"
	gcm256CipherID     = "aes256-gcm@openssh.com"
	chacha20Poly1305ID = "chacha20-poly1305@openssh.com"
	aes128cbcID        = "aes128-cbc"
	tripledescbcID     = "3des-cbc"
)

// maxPacketLength is the bound from spec.md section 6: "Packet length is
// bounded at 35,000 octets" -- this is the wire ceiling (packet_length
// field value), distinct from the 32,768 payload-before-compression bound
// also named there.
const maxPacketLength = 35000

// packetCipher is the Cipher capability set from spec.md section 4.2,
// expressed as a pair of whole-packet operations: writePacket performs
// compress-is-already-done framing, padding, encryption, and (for
// non-AEAD ciphers) MAC, then writes the result; readPacket performs the
// inverse, returning the un-framed plaintext payload (compression is
// handled one layer up, in transport.go).
type packetCipher interface {
	writePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error
	readPacket(seqNum uint32, r io.Reader) ([]byte, error)
}

// cipherMode is a registry entry: it knows how to build a packetCipher
// from key-exchange-derived key/iv material (and, for non-AEAD ciphers,
// a macMode and its key).
type cipherMode struct {
	keySize int
	ivSize  int
	isAEAD  bool
	create  func(key, iv []byte, mac *macMode, macKey []byte) (packetCipher, error)
}

var cipherModes = map[string]*cipherMode{
	chacha20Poly1305ID: {
		keySize: 64, // 32 bytes main key + 32 bytes length key, per OpenSSH's non-standard extension
		ivSize:  0,  // nonce is the sequence number, not a derived IV
		isAEAD:  true,
		create: func(key, iv []byte, mac *macMode, macKey []byte) (packetCipher, error) {
			return newChaCha20Cipher(key)
		},
	},
	gcm128CipherID: {
		keySize: 16,
		ivSize:  12,
		isAEAD:  true,
		create: func(key, iv []byte, mac *macMode, macKey []byte) (packetCipher, error) {
			return newGCMCipher(key, iv)
		},
	},
	gcm256CipherID: {
		keySize: 32,
		ivSize:  12,
		isAEAD:  true,
		create: func(key, iv []byte, mac *macMode, macKey []byte) (packetCipher, error) {
			return newGCMCipher(key, iv)
		},
	},
	"aes128-ctr": {
		keySize: 16,
		ivSize:  aes.BlockSize,
		create:  newAESCTRCipher,
	},
	"aes192-ctr": {
		keySize: 24,
		ivSize:  aes.BlockSize,
		create:  newAESCTRCipher,
	},
	"aes256-ctr": {
		keySize: 32,
		ivSize:  aes.BlockSize,
		create:  newAESCTRCipher,
	},
}

// --- AEAD: aes-gcm ----------------------------------------------------

type gcmCipher struct {
	aead   cipher.AEAD
	prefix [4]byte
	iv     []byte
}

func newGCMCipher(key, iv []byte) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ivCopy := make([]byte, len(iv))
	copy(ivCopy, iv)
	return &gcmCipher{aead: aead, iv: ivCopy}, nil
}

// incIV increments the fixed nonce the way OpenSSH's AES-GCM does: as a
// big-endian counter over the whole IV, once per packet.
func incIV(iv []byte) {
	for i := len(iv) - 1; i >= 0; i-- {
		iv[i]++
		if iv[i] != 0 {
			break
		}
	}
}

func (c *gcmCipher) writePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	// Associated data is the plaintext packet_length field (RFC 5647);
	// the length itself is not encrypted for AES-GCM.
	const blockSize = aes.BlockSize
	payloadLength := len(payload) + 1
	packetLength := paddedLength(payloadLength, blockSize)
	paddingLength := packetLength - payloadLength

	binary.BigEndian.PutUint32(c.prefix[:], uint32(packetLength))
	frame := make([]byte, 0, 4+packetLength)
	frame = append(frame, c.prefix[:]...)
	frame = append(frame, byte(paddingLength))
	frame = append(frame, payload...)
	padding := make([]byte, paddingLength)
	if _, err := io.ReadFull(rand, padding); err != nil {
		return err
	}
	frame = append(frame, padding...)

	sealed := c.aead.Seal(frame[:4], c.iv, frame[4:], frame[:4])
	if _, err := w.Write(sealed); err != nil {
		return err
	}
	incIV(c.iv)
	return nil
}

func (c *gcmCipher) readPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	packetLength := binary.BigEndian.Uint32(prefix[:])
	if packetLength < 1 || packetLength > maxPacketLength {
		return nil, &ProtocolError{Msg: "invalid packet length"}
	}

	rest := make([]byte, int(packetLength)+c.aead.Overhead())
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	plain, err := c.aead.Open(rest[:0], c.iv, rest, prefix[:])
	if err != nil {
		return nil, &DecryptError{Msg: err.Error()}
	}
	incIV(c.iv)

	paddingLength := int(plain[0])
	if paddingLength < 4 || paddingLength+1 > len(plain) {
		return nil, &ProtocolError{Msg: "invalid padding length"}
	}
	return plain[1 : len(plain)-paddingLength], nil
}

// --- AEAD: chacha20-poly1305@openssh.com ------------------------------

// chacha20Poly1305Cipher implements OpenSSH's non-standard extension: the
// packet_length field is encrypted separately (with its own derived key
// and unauthenticated chacha20) so it can be learned before the rest of
// the packet has arrived, per spec.md section 4.2.
type chacha20Poly1305Cipher struct {
	contentKey [32]byte
	lengthKey  [32]byte
}

func newChaCha20Cipher(key []byte) (packetCipher, error) {
	if len(key) != 64 {
		return nil, &ProtocolError{Msg: "chacha20-poly1305: key must be 64 bytes"}
	}
	c := &chacha20Poly1305Cipher{}
	copy(c.contentKey[:], key[:32])
	copy(c.lengthKey[:], key[32:])
	return c, nil
}

func chachaNonce(seqNum uint32) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint64(nonce[4:], uint64(seqNum))
	return nonce
}

func (c *chacha20Poly1305Cipher) writePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	nonce := chachaNonce(seqNum)

	payloadLength := len(payload) + 1
	packetLength := paddedLength(payloadLength, 8)
	paddingLength := packetLength - payloadLength

	var lengthBytes [4]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(packetLength))

	lengthCipher, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		return err
	}
	var encryptedLength [4]byte
	lengthCipher.XORKeyStream(encryptedLength[:], lengthBytes[:])

	frame := make([]byte, 0, packetLength)
	frame = append(frame, byte(paddingLength))
	frame = append(frame, payload...)
	padding := make([]byte, paddingLength)
	if _, err := io.ReadFull(rand, padding); err != nil {
		return err
	}
	frame = append(frame, padding...)

	aead, err := chacha20poly1305.New(c.contentKey[:])
	if err != nil {
		return err
	}
	sealed := aead.Seal(nil, nonce[1:], frame, nil)

	out := make([]byte, 0, 4+len(sealed))
	out = append(out, encryptedLength[:]...)
	out = append(out, sealed...)
	_, err = w.Write(out)
	return err
}

func (c *chacha20Poly1305Cipher) readPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	nonce := chachaNonce(seqNum)

	var encryptedLength [4]byte
	if _, err := io.ReadFull(r, encryptedLength[:]); err != nil {
		return nil, err
	}
	lengthCipher, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	var lengthBytes [4]byte
	lengthCipher.XORKeyStream(lengthBytes[:], encryptedLength[:])
	packetLength := binary.BigEndian.Uint32(lengthBytes[:])
	if packetLength < 1 || packetLength > maxPacketLength {
		return nil, &ProtocolError{Msg: "invalid packet length"}
	}

	const tagSize = 16
	rest := make([]byte, int(packetLength)+tagSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(c.contentKey[:])
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(rest[:0], nonce[1:], rest, nil)
	if err != nil {
		return nil, &DecryptError{Msg: err.Error()}
	}

	paddingLength := int(plain[0])
	if paddingLength < 4 || paddingLength+1 > len(plain) {
		return nil, &ProtocolError{Msg: "invalid padding length"}
	}
	return plain[1 : len(plain)-paddingLength], nil
}

// --- non-AEAD: aes-ctr, paired with a separate MAC --------------------

type streamPacketCipher struct {
	cipher  cipher.Stream
	mac     hash.Hash
	macSize int
}

func newAESCTRCipher(key, iv []byte, macm *macMode, macKey []byte) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	s := &streamPacketCipher{cipher: cipher.NewCTR(block, iv)}
	if macm != nil && macm.new != nil {
		s.mac = macm.new(macKey)
		s.macSize = s.mac.Size()
	}
	return s, nil
}

// paddedLength returns the packet_length satisfying spec.md section 3's
// invariant: (packet_length + 4) mod max(blockSize, 8) == 0, and
// padding_length in [4, 255].
func paddedLength(payloadLength, blockSize int) int {
	if blockSize < 8 {
		blockSize = 8
	}
	packetLength := payloadLength + 4
	packetLength += blockSize - 1
	packetLength -= packetLength % blockSize
	if packetLength-payloadLength-4 < 4 {
		packetLength += blockSize
	}
	return packetLength - 4
}

func (s *streamPacketCipher) writePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	blockSize := 16
	payloadLength := len(payload) + 1
	packetLength := paddedLength(payloadLength, blockSize)
	paddingLength := packetLength - payloadLength

	frame := make([]byte, 4+packetLength)
	binary.BigEndian.PutUint32(frame[:4], uint32(packetLength))
	frame[4] = byte(paddingLength)
	copy(frame[5:], payload)
	if _, err := io.ReadFull(rand, frame[5+len(payload):]); err != nil {
		return err
	}

	var macBytes []byte
	if s.mac != nil {
		s.mac.Reset()
		var seqBytes [4]byte
		binary.BigEndian.PutUint32(seqBytes[:], seqNum)
		s.mac.Write(seqBytes[:])
		s.mac.Write(frame)
		macBytes = s.mac.Sum(nil)
	}

	s.cipher.XORKeyStream(frame, frame)
	if macBytes != nil {
		frame = append(frame, macBytes...)
	}
	_, err := w.Write(frame)
	return err
}

func (s *streamPacketCipher) readPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	s.cipher.XORKeyStream(prefix[:], prefix[:])
	packetLength := binary.BigEndian.Uint32(prefix[:])
	if packetLength < 1 || packetLength > maxPacketLength {
		return nil, &ProtocolError{Msg: "invalid packet length"}
	}

	rest := make([]byte, packetLength)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	s.cipher.XORKeyStream(rest, rest)

	var macBytes []byte
	if s.macSize > 0 {
		macBytes = make([]byte, s.macSize)
		if _, err := io.ReadFull(r, macBytes); err != nil {
			return nil, err
		}
	}

	paddingLength := int(rest[0])
	if paddingLength < 4 || paddingLength+1 > len(rest) {
		return nil, &ProtocolError{Msg: "invalid padding length"}
	}

	if s.mac != nil {
		s.mac.Reset()
		var seqBytes [4]byte
		binary.BigEndian.PutUint32(seqBytes[:], seqNum)
		s.mac.Write(seqBytes[:])
		s.mac.Write(prefix[:])
		s.mac.Write(rest)
		computed := s.mac.Sum(nil)
		if !hmac.Equal(computed, macBytes) {
			return nil, &MacError{Msg: "mac mismatch"}
		}
	}

	return rest[1 : len(rest)-paddingLength], nil
}
