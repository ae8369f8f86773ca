// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"bytes"
	"io"
)

// packetConn is the minimal packet-oriented transport the higher layers
// (handshakeTransport, kexAlgorithm.Client) depend on: whole-payload
// reads and writes, sequence numbering and encryption handled
// internally (spec.md section 4.3).
type packetConn interface {
	readPacket() ([]byte, error)
	writePacket(packet []byte) error
	Close() error
}

// reader wraps one direction's packetCipher with the byte stream it reads
// from and the sequence counter RFC 4253 section 6.4 folds into the MAC
// (or AEAD nonce).
type reader struct {
	io.Reader
	packetCipher
	seqNum uint32

	// pendingKeyChange carries the next packetCipher to switch to once a
	// msgNewKeys has been read (spec.md section 4.6 step 6).
	pendingKeyChange chan packetCipher
}

func (r *reader) readPacket() ([]byte, error) {
	packet, err := r.packetCipher.readPacket(r.seqNum, r.Reader)
	r.seqNum++
	if err != nil {
		return nil, err
	}
	if len(packet) == 0 {
		return nil, &ProtocolError{Msg: "zero length packet"}
	}
	if packet[0] == msgNewKeys {
		select {
		case cipher := <-r.pendingKeyChange:
			r.packetCipher = cipher
		default:
			return nil, &ProtocolError{Msg: "received NEWKEYS without entering key exchange"}
		}
	}
	return packet, nil
}

// writer is the write-direction counterpart of reader.
type writer struct {
	io.Writer
	rand io.Reader
	packetCipher
	seqNum uint32

	pendingKeyChange chan packetCipher
}

func (w *writer) writePacket(packet []byte) error {
	if err := w.packetCipher.writePacket(w.seqNum, w.Writer, w.rand, packet); err != nil {
		return err
	}
	w.seqNum++
	if packet[0] == msgNewKeys {
		select {
		case cipher := <-w.pendingKeyChange:
			w.packetCipher = cipher
		default:
			return &ProtocolError{Msg: "sent NEWKEYS without entering key exchange"}
		}
	}
	return nil
}

// transport implements keyingTransport: it pairs a reader and a writer
// over one net.Conn, each initially running the unencrypted noneCipher
// until the first NEWKEYS exchange completes (RFC 4253 section 6.4).
type transport struct {
	reader reader
	writer writer

	closer io.Closer
}

func newTransport(rwc interface {
	io.Reader
	io.Writer
	io.Closer
}, br *bufio.Reader, rand io.Reader, isClient bool) *transport {
	if br == nil {
		br = bufio.NewReader(rwc)
	}
	t := &transport{
		reader: reader{
			Reader:           br,
			packetCipher:     &noneCipher{},
			pendingKeyChange: make(chan packetCipher, 1),
		},
		writer: writer{
			Writer:           rwc,
			rand:             rand,
			packetCipher:     &noneCipher{},
			pendingKeyChange: make(chan packetCipher, 1),
		},
		closer: rwc,
	}
	return t
}

func (t *transport) readPacket() ([]byte, error) {
	return t.reader.readPacket()
}

func (t *transport) writePacket(packet []byte) error {
	return t.writer.writePacket(packet)
}

func (t *transport) Close() error {
	return t.closer.Close()
}

// prepareKeyChange queues the packetCiphers built from result's derived
// keys, to be installed the next time a NEWKEYS message crosses each
// direction (spec.md section 4.6 step 6).
func (t *transport) prepareKeyChange(algs *Algorithms, result *kexResult) error {
	wc, err := cipherModes[algs.W.Cipher].create(result.KeyCtoS, result.IVCtoS, macModes[algs.W.MAC], result.MACKeyCtoS)
	if err != nil {
		return err
	}
	rc, err := cipherModes[algs.R.Cipher].create(result.KeyStoC, result.IVStoC, macModes[algs.R.MAC], result.MACKeyStoC)
	if err != nil {
		return err
	}
	t.writer.pendingKeyChange <- wc
	t.reader.pendingKeyChange <- rc
	return nil
}

// noneCipher implements the plaintext, unauthenticated framing used
// before the first key exchange completes: packet_length (u32) ||
// padding_length (byte) || payload || padding, no MAC (RFC 4253 section
// 6).
type noneCipher struct{}

func (noneCipher) writePacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	payloadLength := len(payload) + 1
	packetLength := paddedLength(payloadLength, 8)
	paddingLength := packetLength - payloadLength

	frame := make([]byte, 0, 4+packetLength)
	frame = appendU32(frame, uint32(packetLength))
	frame = append(frame, byte(paddingLength))
	frame = append(frame, payload...)
	padding := make([]byte, paddingLength)
	if _, err := io.ReadFull(rand, padding); err != nil {
		return err
	}
	frame = append(frame, padding...)

	_, err := w.Write(frame)
	return err
}

func (noneCipher) readPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	packetLength, _, _ := parseUint32(prefix[:])
	if packetLength < 1 || packetLength > maxPacketLength {
		return nil, &ProtocolError{Msg: "invalid packet length"}
	}
	rest := make([]byte, packetLength)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	paddingLength := int(rest[0])
	if paddingLength < 4 || paddingLength+1 > len(rest) {
		return nil, &ProtocolError{Msg: "invalid padding length"}
	}
	return rest[1 : len(rest)-paddingLength], nil
}

// maxVersionLineLen bounds how many bytes exchangeVersions reads before
// finding the server's identification string -- a generous multiple of
// the expected line length, to resist a server that never sends one.
const maxVersionLineLen = 8192

// packageVersion is the identification string this client offers by
// default, RFC 4253 section 4.2. ClientConfig.ClientVersion overrides it.
var packageVersion = []byte("SSH-2.0-Go-sshc_1.0")

// exchangeVersions implements spec.md section 4.4: send our
// identification string, then read the peer's, skipping any RFC
// 4253-section-4.2-permitted non-version lines that precede it. r must
// be the *bufio.Reader that will go on to back the connection's
// transport, since a server is free to pipeline its KEXINIT right
// behind its banner (RFC 4253 section 4.2/7.1) -- any bytes buffered
// past the version line have to survive into the packet layer rather
// than be discarded with a throwaway reader.
func exchangeVersions(rw io.Writer, r *bufio.Reader, clientVersion []byte) (remoteVersion []byte, err error) {
	if _, err = rw.Write(append(append([]byte(nil), clientVersion...), '\r', '\n')); err != nil {
		return nil, err
	}

	for total := 0; ; {
		line, err := readVersionLine(r)
		if err != nil {
			return nil, err
		}
		total += len(line)
		if total > maxVersionLineLen {
			return nil, &ProtocolError{Msg: "version exchange overran limit without finding SSH banner"}
		}
		if bytes.HasPrefix(line, []byte("SSH-")) {
			return line, nil
		}
	}
}

// readVersionLine reads a single CR?LF-terminated line, stripping the
// line terminator.
func readVersionLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, nil
}
