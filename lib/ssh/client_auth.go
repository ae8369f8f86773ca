// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"io"
)

// clientAuthenticate authenticates with the remote server, per spec.md
// section 4.7 and RFC 4252. It first asks for ssh-userauth and sends a
// "none" request to learn which methods the server accepts (and to let
// the server's banner arrive), then tries each configured AuthMethod in
// order until one succeeds or the server has no more usable methods.
func (c *connection) clientAuthenticate(config *ClientConfig) error {
	if err := c.transport.writePacket(Marshal(&serviceRequestMsg{Service: serviceUserAuth})); err != nil {
		return err
	}
	packet, err := c.transport.readPacket()
	if err != nil {
		return err
	}
	var serviceAccept serviceAcceptMsg
	if err := Unmarshal(packet, &serviceAccept); err != nil {
		return err
	}

	sessionID := c.transport.getSessionID()
	tried := map[string]bool{}

	lastMethods, err := c.sendAuthReq(sessionID, config.User, "none", nil)
	if err != nil {
		return err
	}
	if lastMethods == nil {
		// the "none" method itself succeeded.
		return nil
	}
	if config.DontAuthenticate {
		return nil
	}

	for auth := AuthMethod(nil); ; {
		auth = nil
		for _, candidate := range config.Auth {
			if tried[candidate.method()] {
				continue
			}
			if !contains(lastMethods, candidate.method()) && len(lastMethods) > 0 {
				continue
			}
			auth = candidate
			break
		}
		if auth == nil {
			return &AuthenticationError{Methods: lastMethods}
		}
		tried[auth.method()] = true

		result, methods, err := auth.auth(sessionID, config.User, c.transport, config.Rand)
		if err != nil {
			return err
		}
		if config.Metrics != nil {
			config.Metrics.observeAuth(auth.method(), result == authSuccess)
		}
		switch result {
		case authSuccess:
			return nil
		case authFailure:
			lastMethods = methods
		case authPartialSuccess:
			lastMethods = methods
		}
		if len(methods) == 0 && result != authSuccess {
			return &AuthenticationError{Methods: lastMethods}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// sendAuthReq sends a USERAUTH_REQUEST for method with the given
// method-specific payload (nil for "none") and reads the server's
// response, returning the accepted-methods list on failure (nil on
// success).
func (c *connection) sendAuthReq(sessionID []byte, user, method string, payload []byte) ([]string, error) {
	req := userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  method,
		Payload: payload,
	}
	if err := c.transport.writePacket(Marshal(&req)); err != nil {
		return nil, err
	}
	return readAuthResult(c.transport)
}

// authResult is the outcome of one AuthMethod attempt, per spec.md
// section 4.7.
type authResult int

const (
	authFailure authResult = iota
	authPartialSuccess
	authSuccess
)

// AuthMethod is a way of authenticating against an SSH server, per
// spec.md section 4.7: password (Password) or publickey (PublicKeys).
// The "none" request is sent by clientAuthenticate itself.
type AuthMethod interface {
	auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error)
	method() string
}

// readAuthResult reads the server's response to a USERAUTH_REQUEST,
// handling an interleaved USERAUTH_BANNER. It returns a nil method list
// on USERAUTH_SUCCESS.
func readAuthResult(c packetConn) ([]string, error) {
	for {
		packet, err := c.readPacket()
		if err != nil {
			return nil, err
		}
		switch packet[0] {
		case msgUserAuthBanner:
			if t, ok := c.(*handshakeTransport); ok && t.bannerCallback != nil {
				var msg userAuthBannerMsg
				if err := Unmarshal(packet, &msg); err != nil {
					return nil, err
				}
				if err := t.bannerCallback(msg.Message); err != nil {
					return nil, err
				}
			}
			continue
		case msgUserAuthFailure:
			var msg userAuthFailureMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return nil, err
			}
			return msg.Methods, nil
		case msgUserAuthSuccess:
			return nil, nil
		case msgUserAuthPubKeyOk:
			return nil, unexpectedMessageError(msgUserAuthFailure, packet[0])
		default:
			return nil, unexpectedMessageError(msgUserAuthFailure, packet[0])
		}
	}
}

// --- "none" is driven directly by clientAuthenticate, not exposed as an
// AuthMethod, since it is only ever used once to probe the server's
// accepted method list.

// --- password --------------------------------------------------------

type passwordAuth struct {
	password string
}

func (passwordAuth) method() string { return "password" }

func (p passwordAuth) auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error) {
	payload := appendBool(nil, false)
	payload = appendString(payload, p.password)

	req := userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "password",
		Payload: payload,
	}
	if err := c.writePacket(Marshal(&req)); err != nil {
		return authFailure, nil, err
	}
	methods, err := readAuthResult(c)
	if err != nil {
		return authFailure, nil, err
	}
	if methods == nil {
		return authSuccess, nil, nil
	}
	return authFailure, methods, nil
}

// Password returns an AuthMethod using the given password, per spec.md
// section 4.7's password method.
func Password(secret string) AuthMethod {
	return passwordAuth{secret}
}

// --- publickey ---------------------------------------------------------

type publicKeyAuth struct {
	signers []Signer
}

func (publicKeyAuth) method() string { return "publickey" }

func (p publicKeyAuth) auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error) {
	var methods []string
	for _, signer := range p.signers {
		pub := signer.PublicKey()
		pubKeyBlob := pub.Marshal()

		// The probe request (boolean false): establishes that the
		// server would accept this key, before we incur a signature
		// (spec.md section 4.7, scenario S6's flow).
		probePayload := appendBool(nil, false)
		probePayload = appendString(probePayload, pub.Type())
		probePayload = appendString(probePayload, string(pubKeyBlob))
		probeReq := userAuthRequestMsg{User: user, Service: serviceSSH, Method: "publickey", Payload: probePayload}
		if err := c.writePacket(Marshal(&probeReq)); err != nil {
			return authFailure, nil, err
		}
		packet, err := c.readPacket()
		if err != nil {
			return authFailure, nil, err
		}
		if packet[0] != msgUserAuthPubKeyOk {
			ms, err := readAuthResultFromPacket(packet, c)
			if err != nil {
				return authFailure, nil, err
			}
			if ms == nil {
				return authSuccess, nil, nil
			}
			methods = ms
			continue
		}

		signReq := userAuthRequestMsg{User: user, Service: serviceSSH, Method: "publickey"}
		signData := buildDataSignedForAuth(session, signReq, []byte(pub.Type()), pubKeyBlob)
		sig, err := signer.Sign(rand, signData)
		if err != nil {
			return authFailure, nil, err
		}

		sigBlob := appendString(nil, sig.Format)
		sigBlob = appendString(sigBlob, string(sig.Blob))

		payload := appendBool(nil, true)
		payload = appendString(payload, pub.Type())
		payload = appendString(payload, string(pubKeyBlob))
		payload = append(payload, sigBlob...)

		req := userAuthRequestMsg{User: user, Service: serviceSSH, Method: "publickey", Payload: payload}
		if err := c.writePacket(Marshal(&req)); err != nil {
			return authFailure, nil, err
		}
		ms, err := readAuthResult(c)
		if err != nil {
			return authFailure, nil, err
		}
		if ms == nil {
			return authSuccess, nil, nil
		}
		methods = ms
	}
	if methods == nil {
		return authFailure, nil, fmt.Errorf("ssh: no signers provided for publickey auth")
	}
	return authFailure, methods, nil
}

// readAuthResultFromPacket handles a reply that has already been read
// off the wire (the publickey probe round-trip reads speculatively
// before knowing whether it got PK_OK or a failure).
func readAuthResultFromPacket(packet []byte, c packetConn) ([]string, error) {
	switch packet[0] {
	case msgUserAuthFailure:
		var msg userAuthFailureMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return nil, err
		}
		return msg.Methods, nil
	case msgUserAuthSuccess:
		return nil, nil
	case msgUserAuthBanner:
		if t, ok := c.(*handshakeTransport); ok && t.bannerCallback != nil {
			var msg userAuthBannerMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return nil, err
			}
			if err := t.bannerCallback(msg.Message); err != nil {
				return nil, err
			}
		}
		return readAuthResult(c)
	default:
		return nil, unexpectedMessageError(msgUserAuthFailure, packet[0])
	}
}

// PublicKeys returns an AuthMethod that uses the given key pairs, per
// spec.md section 4.7's publickey method.
func PublicKeys(signers ...Signer) AuthMethod {
	return publicKeyAuth{signers}
}
