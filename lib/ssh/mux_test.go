// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePacketConn is an in-memory packetConn double: writePacket appends to
// out, readPacket drains in. Tests feed responses by pushing onto in.
type fakePacketConn struct {
	in  chan []byte
	mu  sync.Mutex
	out [][]byte

	closeOnce sync.Once
}

func newFakePacketConn(buf int) *fakePacketConn {
	return &fakePacketConn{in: make(chan []byte, buf)}
}

func (f *fakePacketConn) readPacket() ([]byte, error) {
	p, ok := <-f.in
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

func (f *fakePacketConn) writePacket(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte(nil), p...))
	return nil
}

func (f *fakePacketConn) Close() error {
	f.closeOnce.Do(func() { close(f.in) })
	return nil
}

func (f *fakePacketConn) lastOut() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return nil
	}
	return f.out[len(f.out)-1]
}

func TestMuxOpenChannelSuccess(t *testing.T) {
	conn := newFakePacketConn(4)
	m := newMux(conn, nil)
	defer m.Close()

	// The first channel this side opens gets local id 0; preload the
	// peer's confirmation before asking for it.
	confirm := channelOpenConfirmMsg{PeersID: 0, MyID: 7, MyWindow: 1 << 20, MaxPacketSize: 1 << 15}
	conn.in <- Marshal(&confirm)

	ch, _, err := m.OpenChannel("session", nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), ch.(*channel).remoteId)
}

func TestMuxOpenChannelFailure(t *testing.T) {
	conn := newFakePacketConn(4)
	m := newMux(conn, nil)
	defer m.Close()

	fail := channelOpenFailureMsg{PeersID: 0, Reason: UnknownChannelType, Message: "nope"}
	conn.in <- Marshal(&fail)

	_, _, err := m.OpenChannel("bogus", nil)
	require.Error(t, err)
	var openErr *ChannelOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, uint32(UnknownChannelType), openErr.Reason)
}

func TestMuxSendRequestSuccess(t *testing.T) {
	conn := newFakePacketConn(4)
	m := newMux(conn, nil)
	defer m.Close()

	conn.in <- Marshal(&globalRequestSuccessMsg{Data: []byte("ok")})

	ok, data, err := m.SendRequest("keepalive@openssh.com", true, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ok", string(data))
}

func TestMuxIncomingChannelOpenDispatched(t *testing.T) {
	conn := newFakePacketConn(4)
	m := newMux(conn, nil)
	defer m.Close()

	open := channelOpenMsg{ChanType: "forwarded-tcpip", PeersID: 3, PeersWindow: 1 << 20, MaxPacketSize: 1 << 15}
	conn.in <- Marshal(&open)

	select {
	case nc := <-m.incomingChannels:
		assert.Equal(t, "forwarded-tcpip", nc.ChannelType())
		require.NoError(t, nc.Reject(UnknownChannelType, "not supported"))
	case <-time.After(time.Second):
		t.Fatal("no incoming channel delivered")
	}
}

func TestMuxIncomingChannelOpenRejectsBadMaxPacketSize(t *testing.T) {
	conn := newFakePacketConn(4)
	m := newMux(conn, nil)
	defer m.Close()

	open := channelOpenMsg{ChanType: "session", PeersID: 0, PeersWindow: 1 << 20, MaxPacketSize: 1}
	conn.in <- Marshal(&open)

	require.Eventually(t, func() bool {
		last := conn.lastOut()
		if last == nil || last[0] != msgChannelOpenFailure {
			return false
		}
		var failMsg channelOpenFailureMsg
		require.NoError(t, Unmarshal(last, &failMsg))
		return failMsg.Reason == ConnectionFailed
	}, time.Second, 5*time.Millisecond)
}
