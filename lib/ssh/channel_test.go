// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(conn packetConn) *channel {
	m := newMux(conn, nil)
	ch := m.newChannel("session", channelOutbound, nil)
	ch.remoteId = 1
	ch.maxRemotePayload = 4
	ch.remoteWin.add(4)
	return ch
}

func TestChannelSendExtendedSplitsOnWindowAndMaxPayload(t *testing.T) {
	conn := newFakePacketConn(8)
	ch := newTestChannel(conn)
	defer ch.mux.Close()
	ch.maxRemotePayload = 3

	n, err := ch.SendExtended(0, []byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Len(t, conn.out, 2)
	var first, second channelDataMsg
	require.NoError(t, Unmarshal(conn.out[0], &first))
	require.NoError(t, Unmarshal(conn.out[1], &second))
	assert.Equal(t, "abc", string(first.Rest))
	assert.Equal(t, "d", string(second.Rest))
}

func TestChannelWriteStderrUsesExtendedData(t *testing.T) {
	conn := newFakePacketConn(8)
	ch := newTestChannel(conn)
	defer ch.mux.Close()

	n, err := ch.Stderr().Write([]byte("oops"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	var msg channelExtendedDataMsg
	require.NoError(t, Unmarshal(conn.lastOut(), &msg))
	assert.Equal(t, uint32(extendedDataStderr), msg.DataTypeCode)
	assert.Equal(t, "oops", string(msg.Rest))
}

func TestChannelHandleDataFeedsPending(t *testing.T) {
	conn := newFakePacketConn(8)
	ch := newTestChannel(conn)
	defer ch.mux.Close()

	dataMsg := channelDataMsg{PeersID: ch.localId, Length: 5, Rest: []byte("hello")}
	require.NoError(t, ch.handlePacket(msgChannelData, Marshal(&dataMsg)))

	got := make([]byte, 16)
	n, err := ch.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got[:n]))
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	conn := newFakePacketConn(8)
	ch := newTestChannel(conn)
	defer ch.mux.Close()

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	var closeMsgs int
	for _, p := range conn.out {
		if p[0] == msgChannelClose {
			closeMsgs++
		}
	}
	assert.Equal(t, 1, closeMsgs)
}

func TestChannelHandleRemoteCloseTearsDownOnce(t *testing.T) {
	conn := newFakePacketConn(8)
	ch := newTestChannel(conn)

	closeMsg := channelCloseMsg{PeersID: ch.localId}
	require.NoError(t, ch.handlePacket(msgChannelClose, Marshal(&closeMsg)))

	// Tearing down again (e.g. the mux's own dropAll on disconnect) must
	// not double-close incomingRequests/msg.
	assert.NotPanics(t, func() { ch.close() })
}

func TestChannelWindowAdjustRejectsOverflow(t *testing.T) {
	conn := newFakePacketConn(8)
	ch := newTestChannel(conn)
	defer ch.mux.Close()

	adj := channelWindowAdjustMsg{PeersID: ch.localId, AdditionalBytes: 0xffffffff}
	err := ch.handlePacket(msgChannelWindowAdjust, Marshal(&adj))
	require.Error(t, err)
}
