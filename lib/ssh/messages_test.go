// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalKexInitRoundTrip(t *testing.T) {
	want := KexInitMsg{
		KexAlgos:                []string{kexAlgoCurve25519SHA256},
		ServerHostKeyAlgos:      []string{KeyAlgoED25519},
		CiphersClientServer:     []string{chacha20Poly1305ID},
		CiphersServerClient:     []string{chacha20Poly1305ID},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{compressionNone},
		CompressionServerClient: []string{compressionNone},
		LanguagesClientServer:   []string{},
		LanguagesServerClient:   []string{},
		FirstKexFollows:         true,
	}
	copy(want.Cookie[:], "0123456789abcdef")

	wire := Marshal(&want)
	assert.Equal(t, byte(msgKexInit), wire[0])

	var got KexInitMsg
	require.NoError(t, Unmarshal(wire, &got))
	assert.Equal(t, want, got)
}

func TestUnmarshalRejectsWrongMessageType(t *testing.T) {
	wire := Marshal(&channelEOFMsg{PeersID: 5})
	var got KexInitMsg
	err := Unmarshal(wire, &got)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestMarshalUnmarshalChannelDataWithRestTag(t *testing.T) {
	want := channelDataMsg{PeersID: 3, Length: 5, Rest: []byte("hello")}
	wire := Marshal(&want)

	var got channelDataMsg
	require.NoError(t, Unmarshal(wire, &got))
	assert.Equal(t, want.PeersID, got.PeersID)
	assert.Equal(t, want.Rest, got.Rest)
}

func TestDecodeDispatchesByMessageNumber(t *testing.T) {
	wire := Marshal(&channelCloseMsg{PeersID: 42})
	msg, err := decode(wire)
	require.NoError(t, err)
	closeMsg, ok := msg.(*channelCloseMsg)
	require.True(t, ok)
	assert.Equal(t, uint32(42), closeMsg.PeersID)
}

func TestAppendAndParseStringRoundTrip(t *testing.T) {
	wire := appendString(nil, "ssh-ed25519")
	s, rest, ok := parseString(wire)
	require.True(t, ok)
	assert.Equal(t, "ssh-ed25519", string(s))
	assert.Empty(t, rest)
}

func TestAppendAndParseUint32RoundTrip(t *testing.T) {
	wire := appendU32(nil, 0xdeadbeef)
	n, rest, ok := parseUint32(wire)
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), n)
	assert.Empty(t, rest)
}

func TestParseStringTruncatedIsRejected(t *testing.T) {
	_, _, ok := parseString([]byte{0, 0, 0, 10, 'a', 'b'})
	assert.False(t, ok)
}
