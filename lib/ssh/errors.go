// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "fmt"

// Disconnect reason codes, see RFC 4253 section 11.1 and spec.md section 6.
const (
	DisconnectHostNotAllowed           = 1
	DisconnectProtocolError            = 2
	DisconnectKeyExchangeFailed        = 3
	DisconnectReserved                 = 4
	DisconnectMACError                 = 5
	DisconnectCompressionError         = 6
	DisconnectServiceNotAvailable      = 7
	DisconnectProtocolVersionNotSupported = 8
	DisconnectHostKeyNotVerifiable     = 9
	DisconnectConnectionLost           = 10
	DisconnectByApplication            = 11
	DisconnectTooManyConnections       = 12
	DisconnectAuthCancelledByUser      = 13
	DisconnectNoMoreAuthMethods        = 14
	DisconnectIllegalUserName          = 15
)

// ProtocolError is raised on a malformed frame, invalid length, unexpected
// message code, or padding invariant violation (spec.md section 7).
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "ssh: protocol error: " + e.Msg }

// unexpectedMessageError results when the SSH message that we received
// didn't match what we wanted.
func unexpectedMessageError(expected, got uint8) error {
	return &ProtocolError{Msg: fmt.Sprintf("unexpected message type %d (expected %d)", got, expected)}
}

// parseError results from a malformed SSH message.
func parseError(tag uint8) error {
	return &ProtocolError{Msg: fmt.Sprintf("parse error in message type %d", tag)}
}

// MacError is raised when a non-AEAD MAC tag fails to verify (spec.md
// section 7, MacInvalid). A failed AEAD authentication tag is reported
// as DecryptError instead.
type MacError struct {
	Msg string
}

func (e *MacError) Error() string { return "ssh: mac error: " + e.Msg }

// DecryptError is raised when an AEAD cipher fails to decrypt/authenticate
// before any MAC check would otherwise run (spec.md section 7).
type DecryptError struct {
	Msg string
}

func (e *DecryptError) Error() string { return "ssh: decrypt error: " + e.Msg }

// SignatureError is raised when host-key signature verification fails
// during key exchange (spec.md section 4.6 step 4 / section 7,
// SignatureInvalid).
type SignatureError struct {
	Msg string
}

func (e *SignatureError) Error() string { return "ssh: signature error: " + e.Msg }

// HostKeyError is raised when the caller's HostKeyCallback refuses the
// presented host key (spec.md section 7, HostKeyRejected).
type HostKeyError struct {
	Msg string
}

func (e *HostKeyError) Error() string { return "ssh: host key rejected: " + e.Msg }

// AlgorithmNegotiationError is raised when a KEXINIT category's client and
// server lists have empty intersection (spec.md section 4.5 / section 7,
// NoAlgorithmMatch).
type AlgorithmNegotiationError struct {
	Category string
	Client   []string
	Server   []string
}

func (e *AlgorithmNegotiationError) Error() string {
	return fmt.Sprintf("ssh: no common algorithm for %s; client offered: %v, server offered: %v", e.Category, e.Client, e.Server)
}

// AuthenticationError is raised once every configured auth method has been
// tried and none succeeded (spec.md section 4.7 / section 7,
// AuthenticationFailed).
type AuthenticationError struct {
	// Methods lists the methods the server still accepts, from the final
	// USERAUTH_FAILURE.
	Methods []string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("ssh: unable to authenticate, attempted methods exhausted, remaining methods accepted by server: %v", e.Methods)
}

// ChannelOpenError is raised when the remote end refuses a CHANNEL_OPEN
// request (spec.md section 4.8 / section 7, ChannelOpenFailed).
type ChannelOpenError struct {
	Reason  uint32
	Message string
}

func (e *ChannelOpenError) Error() string {
	return fmt.Sprintf("ssh: channel open failed: reason %d: %s", e.Reason, e.Message)
}

// WindowExceededError describes a write larger than the peer's advertised
// channel window (spec.md section 7). No code path in this package
// returns it: channel writes block until the peer grants window space.
type WindowExceededError struct {
	Requested, Available uint32
}

func (e *WindowExceededError) Error() string {
	return fmt.Sprintf("ssh: write of %d bytes exceeds remaining window of %d bytes", e.Requested, e.Available)
}

// TimeoutError describes an operation that ran past a deadline (spec.md
// section 5 / section 7, Timeout). No code path in this package returns
// it; a deadline set on the underlying net.Conn (as Dial does for
// ClientConfig.Timeout) surfaces as that connection's own error.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "ssh: timeout during " + e.Op }

func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return true }

// DisconnectError is the error a connection's Wait returns when the peer
// sends SSH_MSG_DISCONNECT after the handshake (spec.md section 7,
// Disconnected(code, description)). This package never sends
// SSH_MSG_DISCONNECT itself; Close just closes the connection.
type DisconnectError struct {
	Reason  uint32
	Message string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("ssh: disconnected, reason %d: %s", e.Reason, e.Message)
}

// CancelledError is returned to in-flight channel requests with
// want_reply=true when the session closes before a reply arrives
// (spec.md section 5, Cancellation).
type CancelledError struct{}

func (e *CancelledError) Error() string { return "ssh: request cancelled: session closed" }
