// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordAuthSuccess(t *testing.T) {
	conn := newFakePacketConn(4)
	conn.in <- marshalUserAuthSuccess()

	auth := Password("hunter2")
	result, methods, err := auth.auth(nil, "alice", conn, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, authSuccess, result)
	require.Nil(t, methods)

	var req userAuthRequestMsg
	require.NoError(t, Unmarshal(conn.lastOut(), &req))
	require.Equal(t, "password", req.Method)
	require.Equal(t, "alice", req.User)
}

func TestPasswordAuthFailure(t *testing.T) {
	conn := newFakePacketConn(4)
	conn.in <- Marshal(&userAuthFailureMsg{Methods: []string{"publickey"}})

	auth := Password("wrong")
	result, methods, err := auth.auth(nil, "alice", conn, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, authFailure, result)
	require.Equal(t, []string{"publickey"}, methods)
}

func TestPublicKeyAuthSuccessAfterProbe(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)

	conn := newFakePacketConn(4)
	pubOk := userAuthPubKeyOkMsg{Algo: signer.PublicKey().Type(), PubKey: signer.PublicKey().Marshal()}
	conn.in <- Marshal(&pubOk)
	conn.in <- marshalUserAuthSuccess()

	auth := PublicKeys(signer)
	result, methods, err := auth.auth([]byte("session-id"), "alice", conn, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, authSuccess, result)
	require.Nil(t, methods)

	require.Len(t, conn.out, 2)
	var signReq userAuthRequestMsg
	require.NoError(t, Unmarshal(conn.lastOut(), &signReq))
	require.Equal(t, "publickey", signReq.Method)
}

func TestPublicKeyAuthDeclinedAtProbe(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)

	conn := newFakePacketConn(4)
	conn.in <- Marshal(&userAuthFailureMsg{Methods: []string{"password"}})

	auth := PublicKeys(signer)
	result, methods, err := auth.auth([]byte("session-id"), "alice", conn, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, authFailure, result)
	require.Equal(t, []string{"password"}, methods)
	require.Len(t, conn.out, 1)
}

func TestReadAuthResultSkipsBanner(t *testing.T) {
	conn := newFakePacketConn(4)
	conn.in <- Marshal(&userAuthBannerMsg{Message: "welcome"})
	conn.in <- marshalUserAuthSuccess()

	methods, err := readAuthResult(conn)
	require.NoError(t, err)
	require.Nil(t, methods)
}

func marshalUserAuthSuccess() []byte {
	return Marshal(&userAuthSuccessMsg{})
}
